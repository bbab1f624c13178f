package models

// Task is the queue payload for one scrape execution.
// Scheduled marks cron-injected re-scrapes, which backlog hygiene
// never drops as recently-completed duplicates.
type Task struct {
	SearchTerm string `json:"search_term"`
	Scheduled  bool   `json:"scheduled"`
	Attempt    int    `json:"attempt"`
}
