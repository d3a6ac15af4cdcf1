package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spotfinder/models"
	"spotfinder/repository"
	"spotfinder/scheduler"
	"spotfinder/scraper"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TrackedStore persists tracked searches
type TrackedStore interface {
	Add(ctx context.Context, category, product string) (*models.TrackedSearch, error)
	List(ctx context.Context) ([]models.TrackedSearch, error)
	Get(ctx context.Context, id int) (*models.TrackedSearch, error)
	Deactivate(ctx context.Context, id int) error
	History(ctx context.Context, id int, limit int) ([]models.SpotHistory, error)
}

// RankChecker checks a tracked search now and records the outcome
type RankChecker interface {
	CheckOne(ctx context.Context, ts models.TrackedSearch) (*models.SpotResult, error)
}

// Deps are the collaborators of Handlers. Tracked and Checker may be nil when no
// database is configured; the tracked endpoints then answer 503.
type Deps struct {
	Tasks          *scheduler.TaskManager
	Tracked        TrackedStore
	Checker        RankChecker
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type Handlers struct {
	taskManager    *scheduler.TaskManager
	tracked        TrackedStore
	checker        RankChecker
	requestTimeout time.Duration
	logger         *zap.Logger
	startedAt      time.Time
}

func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		taskManager:    deps.Tasks,
		tracked:        deps.Tracked,
		checker:        deps.Checker,
		requestTimeout: deps.RequestTimeout,
		logger:         logger,
		startedAt:      time.Now(),
	}
}

// HealthCheck returns a simple health check response
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "spotfinder",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"tracking":  h.tracked != nil,
	})
}

// FindSpot runs a lookup from a JSON body
func (h *Handlers) FindSpot(w http.ResponseWriter, r *http.Request) {
	var req models.SpotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.findSpot(w, r, req)
}

// FindSpotQuery runs a lookup from ?cat=&name= so a lookup can be shared as a link
func (h *Handlers) FindSpotQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	debug, _ := strconv.ParseBool(q.Get("debug"))
	h.findSpot(w, r, models.SpotRequest{
		SearchCategory: q.Get("cat"),
		ProductName:    q.Get("name"),
		SaveDebug:      debug,
	})
}

func (h *Handlers) findSpot(w http.ResponseWriter, r *http.Request, req models.SpotRequest) {
	if msg := validateSpotRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	// shares the worker slots with queued tasks
	result, err := h.taskManager.Do(ctx, req)
	if err != nil {
		h.writeFindError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewSpotResponse(result))
}

// FindSpotAsync queues a lookup and returns the task to poll
func (h *Handlers) FindSpotAsync(w http.ResponseWriter, r *http.Request) {
	var req models.SpotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateSpotRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	task := h.taskManager.Submit(req)
	if task.Status == models.TaskStatusFailed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"task_id": task.ID,
			"status":  task.Status,
			"error":   task.Error,
			"kind":    task.ErrorKind,
		})
		return
	}

	h.logger.Info("🚀 Async spot check started",
		zap.String("task_id", task.ID),
		zap.String("category", req.SearchCategory),
		zap.String("product", req.ProductName))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id": task.ID,
		"status":  task.Status,
		"message": "Spot check queued for processing",
	})
}

// GetTaskStatus returns the status of an async task
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	task, exists := h.taskManager.GetTask(taskID)
	if !exists {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	resp := map[string]interface{}{
		"task_id":    task.ID,
		"status":     task.Status,
		"message":    task.Message,
		"request":    task.Request,
		"created_at": task.CreatedAt,
	}
	if task.Result != nil {
		resp["result"] = NewSpotResponse(task.Result)
	}
	if task.Error != "" {
		resp["error"] = task.Error
		resp["kind"] = task.ErrorKind
	}
	if task.IsCompleted() {
		resp["duration_ms"] = task.Duration().Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTaskStats returns statistics about the task manager
func (h *Handlers) GetTaskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     h.taskManager.GetStats(),
		"timestamp": time.Now(),
	})
}

// AddTrackedSearch starts tracking a (category, product) pair
func (h *Handlers) AddTrackedSearch(w http.ResponseWriter, r *http.Request) {
	if !h.requireTracking(w) {
		return
	}

	var req models.AddTrackedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SearchCategory = strings.TrimSpace(req.SearchCategory)
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.SearchCategory == "" || req.ProductName == "" {
		writeError(w, http.StatusBadRequest, "search_category and product_name are required")
		return
	}

	ts, err := h.tracked.Add(r.Context(), req.SearchCategory, req.ProductName)
	if err != nil {
		h.logger.Error("Failed to add tracked search", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add tracked search")
		return
	}

	writeJSON(w, http.StatusCreated, ts)
}

// GetTrackedSearches returns all active tracked searches
func (h *Handlers) GetTrackedSearches(w http.ResponseWriter, r *http.Request) {
	if !h.requireTracking(w) {
		return
	}

	searches, err := h.tracked.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to get tracked searches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get tracked searches")
		return
	}
	if searches == nil {
		searches = []models.TrackedSearch{}
	}

	writeJSON(w, http.StatusOK, searches)
}

// DeleteTrackedSearch stops tracking a search
func (h *Handlers) DeleteTrackedSearch(w http.ResponseWriter, r *http.Request) {
	if !h.requireTracking(w) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.tracked.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tracked search not found")
			return
		}
		h.logger.Error("Failed to delete tracked search", zap.Int("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete tracked search")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Tracked search deleted successfully"})
}

// GetSpotHistory returns the recorded checks of a tracked search
func (h *Handlers) GetSpotHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireTracking(w) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	history, err := h.tracked.History(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to get spot history", zap.Int("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get spot history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// CheckTrackedNow runs a tracked search immediately and records the result
func (h *Handlers) CheckTrackedNow(w http.ResponseWriter, r *http.Request) {
	if !h.requireTracking(w) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ts, err := h.tracked.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tracked search not found")
			return
		}
		h.logger.Error("Failed to get tracked search", zap.Int("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get tracked search")
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	result, err := h.checker.CheckOne(ctx, *ts)
	if err != nil {
		h.writeFindError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewSpotResponse(result))
}

func (h *Handlers) requireTracking(w http.ResponseWriter) bool {
	if h.tracked == nil || h.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "Tracking requires a database")
		return false
	}
	return true
}

// writeFindError maps a lookup failure to a status code
func (h *Handlers) writeFindError(w http.ResponseWriter, err error) {
	kind := scheduler.ErrorKind(err)
	body := map[string]interface{}{"error": err.Error(), "kind": kind}

	var navErr *scraper.NavigationError
	switch {
	case errors.As(err, &navErr):
		body["reason"] = navErr.Reason
		h.logger.Warn("Navigation failed", zap.String("url", navErr.URL), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, body)
	case kind == scheduler.ErrorKindTimeout:
		writeJSON(w, http.StatusGatewayTimeout, body)
	case errors.Is(err, scheduler.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		h.logger.Error("Spot check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func validateSpotRequest(req *models.SpotRequest) string {
	req.SearchCategory = strings.TrimSpace(req.SearchCategory)
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.SearchCategory == "" || req.ProductName == "" {
		return "search_category and product_name are required"
	}
	return ""
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tracked search ID")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
