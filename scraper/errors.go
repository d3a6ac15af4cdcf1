package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNavigation matches every *NavigationError via errors.Is
	ErrNavigation = errors.New("navigation failed")

	// ErrSessionClosed is returned by session calls made after Close
	ErrSessionClosed = errors.New("browser session closed")
)

// NavReason classifies a navigation failure
type NavReason string

const (
	NavTimeout NavReason = "timeout"
	NavNetwork NavReason = "network"
	NavBlocked NavReason = "blocked"
)

// NavigationError reports that the results page could not be loaded.
// It is fatal to the lookup and is never retried internally.
type NavigationError struct {
	URL    string
	Reason NavReason
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("navigate to %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("navigate to %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNavigation) match any navigation failure
func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

func newNavigationError(url string, err error) *NavigationError {
	return &NavigationError{URL: url, Reason: classifyNavError(err), Err: err}
}

func classifyNavError(err error) NavReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return NavTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline") {
		return NavTimeout
	}
	return NavNetwork
}
