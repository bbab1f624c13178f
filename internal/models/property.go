package models

import (
	"time"
)

// PropertyRecord is the unit persisted by the harvester.
// PropertyID is the upstream's natural identifier and the store's primary key;
// upserts overwrite all mutable fields and bump UpdatedAt/ScrapedAt.
type PropertyRecord struct {
	PropertyID     string    `json:"property_id"`
	Name           string    `json:"name"`
	PropType       string    `json:"prop_type"`
	City           string    `json:"city,omitempty"`
	Address        string    `json:"address"`
	AssessedValue  *float64  `json:"assessed_value,omitempty"`
	AppraisedValue float64   `json:"appraised_value"`
	GeoID          string    `json:"geo_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	SearchTerm     string    `json:"search_term,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
