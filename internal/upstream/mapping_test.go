package upstream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexString_AcceptsStringNumberAndNull(t *testing.T) {
	var s struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}

	err := json.Unmarshal([]byte(`{"a":"hello","b":12345,"c":null}`), &s)
	require.NoError(t, err)

	assert.Equal(t, "hello", string(s.A))
	assert.Equal(t, "12345", string(s.B))
	assert.Equal(t, "", string(s.C))
}

func TestFlexNumber_AcceptsNumberStringAndNull(t *testing.T) {
	var s struct {
		A FlexNumber `json:"a"`
		B FlexNumber `json:"b"`
		C FlexNumber `json:"c"`
		D FlexNumber `json:"d"`
		E FlexNumber `json:"e"`
	}

	err := json.Unmarshal([]byte(`{"a":150000.5,"b":"275000","c":null,"d":"","e":"1,250,000"}`), &s)
	require.NoError(t, err)

	assert.Equal(t, 150000.5, float64(s.A))
	assert.Equal(t, 275000.0, float64(s.B))
	assert.Equal(t, 0.0, float64(s.C))
	assert.Equal(t, 0.0, float64(s.D))
	assert.Equal(t, 1250000.0, float64(s.E))
}

func TestFlexNumber_RejectsNonNumericString(t *testing.T) {
	var n FlexNumber
	err := json.Unmarshal([]byte(`"N/A"`), &n)
	assert.Error(t, err)
}

func TestToRecord_MapsFields(t *testing.T) {
	raw := []byte(`{
		"pid": 101,
		"displayName": "SMITH FAMILY TRUST",
		"propType": "R",
		"city": "AUSTIN",
		"streetPrimary": "123 MAIN ST",
		"assessedValue": "350000",
		"appraisedValue": 425000,
		"geoID": "0123-45",
		"legalDescription": "LOT 1 BLK 2"
	}`)

	var result searchResult
	require.NoError(t, json.Unmarshal(raw, &result))

	now := time.Now()
	rec := result.toRecord("Smith", now)
	require.NotNil(t, rec)

	assert.Equal(t, "101", rec.PropertyID)
	assert.Equal(t, "SMITH FAMILY TRUST", rec.Name)
	assert.Equal(t, "R", rec.PropType)
	assert.Equal(t, "AUSTIN", rec.City)
	assert.Equal(t, "123 MAIN ST", rec.Address)
	require.NotNil(t, rec.AssessedValue)
	assert.Equal(t, 350000.0, *rec.AssessedValue)
	assert.Equal(t, 425000.0, rec.AppraisedValue)
	assert.Equal(t, "0123-45", rec.GeoID)
	assert.Equal(t, "LOT 1 BLK 2", rec.Description)
	assert.Equal(t, "Smith", rec.SearchTerm)
	assert.Equal(t, now, rec.ScrapedAt)
}

func TestToRecord_DropsEmptyPropertyID(t *testing.T) {
	var result searchResult
	require.NoError(t, json.Unmarshal([]byte(`{"pid":null,"displayName":"X"}`), &result))

	assert.Nil(t, result.toRecord("Smith", time.Now()))
}

func TestToRecord_NullAssessedStaysNil(t *testing.T) {
	var result searchResult
	require.NoError(t, json.Unmarshal([]byte(`{"pid":"7","assessedValue":null,"appraisedValue":""}`), &result))

	rec := result.toRecord("Smith", time.Now())
	require.NotNil(t, rec)
	assert.Nil(t, rec.AssessedValue)
	assert.Equal(t, 0.0, rec.AppraisedValue)
}

func TestToRecord_ClampsNegativeValues(t *testing.T) {
	var result searchResult
	require.NoError(t, json.Unmarshal([]byte(`{"pid":"8","assessedValue":-100,"appraisedValue":-1}`), &result))

	rec := result.toRecord("Smith", time.Now())
	require.NotNil(t, rec)
	require.NotNil(t, rec.AssessedValue)
	assert.Equal(t, 0.0, *rec.AssessedValue)
	assert.Equal(t, 0.0, rec.AppraisedValue)
}

func TestIsTruncated(t *testing.T) {
	assert.False(t, isTruncated([]byte(`{"results":[]}`)))
	assert.False(t, isTruncated([]byte("{\"results\":[]}\n  ")))
	assert.False(t, isTruncated([]byte(`[1,2,3]`)))
	assert.True(t, isTruncated([]byte(`{"results":[{"pid":"1"`)))
	assert.True(t, isTruncated([]byte(`{"results":[{"pid":"`)))
	assert.True(t, isTruncated([]byte("")))
}
