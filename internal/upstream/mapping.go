package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/praedium/internal/models"
)

// The upstream is loose with scalar types: numeric fields arrive as
// numbers or quoted strings depending on the record, and string fields
// occasionally arrive as bare numbers. FlexString and FlexNumber absorb
// both shapes.

// FlexString decodes a JSON string, number, or null into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(data))
	return nil
}

// FlexNumber decodes a JSON number, numeric string, or null into a
// float64. Empty strings and null decode to zero; a non-numeric string
// is a decode error, which surfaces as a page-level ParseError and
// triggers the downshift path instead of a silently wrong count.
type FlexNumber float64

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("non-numeric value %q", s)
		}
		*f = FlexNumber(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexNumber(v)
	return nil
}

// searchResponse is the upstream page envelope.
type searchResponse struct {
	TotalProperty struct {
		PropertyCount FlexNumber `json:"propertyCount"`
	} `json:"totalProperty"`
	Results []searchResult `json:"results"`
}

// searchResult is one upstream property row.
type searchResult struct {
	PID              FlexString  `json:"pid"`
	DisplayName      FlexString  `json:"displayName"`
	PropType         FlexString  `json:"propType"`
	City             FlexString  `json:"city"`
	StreetPrimary    FlexString  `json:"streetPrimary"`
	AssessedValue    *FlexNumber `json:"assessedValue"`
	AppraisedValue   FlexNumber  `json:"appraisedValue"`
	GeoID            FlexString  `json:"geoID"`
	LegalDescription FlexString  `json:"legalDescription"`
}

// toRecord maps an upstream row to a PropertyRecord. Rows without a
// property id return nil and are dropped by the caller. Monetary values
// are clamped to non-negative.
func (r *searchResult) toRecord(term string, scrapedAt time.Time) *models.PropertyRecord {
	pid := strings.TrimSpace(string(r.PID))
	if pid == "" {
		return nil
	}

	rec := &models.PropertyRecord{
		PropertyID:     pid,
		Name:           string(r.DisplayName),
		PropType:       string(r.PropType),
		City:           string(r.City),
		Address:        string(r.StreetPrimary),
		AppraisedValue: clampValue(float64(r.AppraisedValue)),
		GeoID:          string(r.GeoID),
		Description:    string(r.LegalDescription),
		SearchTerm:     term,
		ScrapedAt:      scrapedAt,
	}

	if r.AssessedValue != nil {
		v := clampValue(float64(*r.AssessedValue))
		rec.AssessedValue = &v
	}

	return rec
}

func clampValue(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
