package models

import (
	"fmt"
	"time"
)

// Frequency is how often a monitored search is re-scraped
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ValidateFrequency rejects anything outside the supported set
func ValidateFrequency(f Frequency) error {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return nil
	default:
		return fmt.Errorf("invalid frequency: %q", f)
	}
}

// Next returns the next run time after from for this frequency
func (f Frequency) Next(from time.Time) time.Time {
	switch f {
	case FrequencyHourly:
		return from.Add(time.Hour)
	case FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from.AddDate(0, 0, 1)
	}
}

// MonitoredSearch is a persistent intent to re-scrape a term.
// At most one row exists per SearchTerm.
type MonitoredSearch struct {
	SearchTerm string     `json:"search_term"`
	Active     bool       `json:"active"`
	Frequency  Frequency  `json:"frequency"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
