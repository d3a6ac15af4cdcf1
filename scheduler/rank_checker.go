package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spotfinder/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the daily re-check at 06:00
const DefaultSchedule = "0 0 6 * * *"

// TrackedStore is the persistence the rank checker needs
type TrackedStore interface {
	List(ctx context.Context) ([]models.TrackedSearch, error)
	RecordCheck(ctx context.Context, id int, result *models.SpotResult, checkErr error) error
}

// RankChecker periodically re-checks every tracked search and records its rank
type RankChecker struct {
	cron         *cron.Cron
	store        TrackedStore
	spotFunc     SpotFunc
	schedule     string
	checkTimeout time.Duration
	logger       *zap.Logger

	running sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRankChecker creates a rank checker. An empty schedule uses DefaultSchedule.
func NewRankChecker(store TrackedStore, spotFunc SpotFunc, schedule string, checkTimeout time.Duration, logger *zap.Logger) *RankChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RankChecker{
		cron:         cron.New(cron.WithSeconds()),
		store:        store,
		spotFunc:     spotFunc,
		schedule:     schedule,
		checkTimeout: checkTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start schedules the periodic check and runs one immediately
func (rc *RankChecker) Start() error {
	if _, err := rc.cron.AddFunc(rc.schedule, rc.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule rank checker: %w", err)
	}

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		rc.runScheduled()
	}()

	rc.cron.Start()
	rc.logger.Info("⏰ Rank checker scheduled", zap.String("schedule", rc.schedule))
	return nil
}

// Stop stops the schedule, cancels an in-flight run and waits for it to return
func (rc *RankChecker) Stop() {
	stopped := rc.cron.Stop()
	rc.cancel()
	<-stopped.Done()
	rc.wg.Wait()
}

func (rc *RankChecker) runScheduled() {
	// a slow run must not overlap the next tick
	if !rc.running.TryLock() {
		rc.logger.Warn("⏭️ Previous rank check still running, skipping")
		return
	}
	defer rc.running.Unlock()

	if _, _, err := rc.CheckAll(rc.ctx); err != nil {
		rc.logger.Error("Scheduled rank check failed", zap.Error(err))
	}
}

// CheckAll re-checks every active tracked search, one at a time, and returns
// how many were checked and how many of those failed.
func (rc *RankChecker) CheckAll(ctx context.Context) (checked, failed int, err error) {
	rc.logger.Info("🔎 Starting scheduled rank check for all tracked searches")

	searches, err := rc.store.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get tracked searches: %w", err)
	}
	if len(searches) == 0 {
		rc.logger.Info("No tracked searches to check")
		return 0, 0, nil
	}

	for _, ts := range searches {
		if ctx.Err() != nil {
			return checked, failed, ctx.Err()
		}
		checked++
		if _, err := rc.CheckOne(ctx, ts); err != nil {
			failed++
		}
	}

	rc.logger.Info("✅ Rank check finished", zap.Int("checked", checked), zap.Int("failed", failed))
	return checked, failed, nil
}

// CheckOne looks up one tracked search and records the outcome. The lookup
// error is returned after it has been written to history.
func (rc *RankChecker) CheckOne(ctx context.Context, ts models.TrackedSearch) (*models.SpotResult, error) {
	log := rc.logger.With(
		zap.Int("search_id", ts.ID),
		zap.String("category", ts.SearchCategory),
		zap.String("product", ts.ProductName))

	checkCtx := ctx
	if rc.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, rc.checkTimeout)
		defer cancel()
	}

	result, checkErr := rc.spotFunc(checkCtx, models.SpotRequest{
		SearchCategory: ts.SearchCategory,
		ProductName:    ts.ProductName,
	})

	if err := rc.store.RecordCheck(ctx, ts.ID, result, checkErr); err != nil {
		log.Error("Failed to record spot check", zap.Error(err))
		if checkErr == nil {
			return result, err
		}
	}

	if checkErr != nil {
		log.Warn("❌ Rank check failed", zap.String("kind", ErrorKind(checkErr)), zap.Error(checkErr))
		return nil, checkErr
	}

	if result.Found() {
		if ts.HasRank() && int64(*result.Rank) != ts.LastRank.Int64 {
			log.Info("📈 Rank changed", zap.Int64("was", ts.LastRank.Int64), zap.Int("now", *result.Rank))
		} else {
			log.Info("📍 Product spotted", zap.Int("rank", *result.Rank))
		}
	} else {
		log.Info("🙈 Product not found in listing", zap.Int("seen", result.TotalSeen))
	}
	return result, nil
}
