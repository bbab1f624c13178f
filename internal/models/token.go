package models

import (
	"time"
)

// TokenSnapshot is an immutable view of the process-wide bearer token.
// Readers observe either nil (never refreshed) or a fully-constructed
// snapshot with a non-empty Value.
type TokenSnapshot struct {
	Value       string    `json:"-"` // Never serialized
	LastRefresh time.Time `json:"last_refresh"`
}

// TokenHealth reports supervisor state for the control surface
type TokenHealth struct {
	HasToken     bool       `json:"has_token"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
	RefreshCount int64      `json:"refresh_count"`
	FailureCount int64      `json:"failure_count"`
	FailureRate  float64    `json:"failure_rate"`
	IsRefreshing bool       `json:"is_refreshing"`
	IsRunning    bool       `json:"is_running"`
}
