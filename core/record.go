package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds the deterministic ids of records that arrive without one
var recordNamespace = uuid.MustParse("5f0b8a3e-2f44-4e8e-9a57-0c6f8b1d6a21")

// Key aliases seen across the backend API and the peer ingestor
var (
	idKeys          = []string{"entry_id", "ssemmi_id", "id", "_id"}
	timestampKeys   = []string{"created", "timestamp", "date", "ssemmi_date_added"}
	speciesKeys     = []string{"type", "species"}
	contributorKeys = []string{"data_source_name", "contributor", "data_source_entity"}
	latKeys         = []string{"latitude", "lat"}
	lonKeys         = []string{"longitude", "lon", "lng"}
	verifiedKeys    = []string{"trusted", "verified"}
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// DecodeRecord converts one heterogeneous API or peer record into a Sighting.
//
// Coordinates are parsed but not checked; ToMappable drops invalid ones.
// A record without a parseable timestamp is rejected with ErrValidationFailure.
func DecodeRecord(raw json.RawMessage) (Sighting, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Sighting{}, fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	if fields == nil {
		return Sighting{}, fmt.Errorf("%w: record is not an object", ErrValidationFailure)
	}

	ts, ok := parseTimestamp(take(fields, timestampKeys))
	if !ok {
		return Sighting{}, fmt.Errorf("%w: missing or malformed timestamp", ErrValidationFailure)
	}

	s := Sighting{
		ID:          asString(take(fields, idKeys)),
		Timestamp:   ts,
		Species:     strings.TrimSpace(asString(take(fields, speciesKeys))),
		Contributor: strings.TrimSpace(asString(take(fields, contributorKeys))),
		Verified:    asBool(take(fields, verifiedKeys)),
	}
	s.Location.Lat = asFloat(take(fields, latKeys))
	s.Location.Lon = asFloat(take(fields, lonKeys))

	if s.ID == "" {
		s.ID = uuid.NewSHA1(recordNamespace, raw).String()
	}
	if len(fields) > 0 {
		s.Metadata = fields
	}
	return s, nil
}

// take removes and returns the first present alias
func take(fields map[string]any, keys []string) any {
	var found any
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if found == nil && v != nil {
				found = v
			}
			delete(fields, k)
		}
	}
	return found
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), true
			}
		}
		// epoch seconds or millis sent as text
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return epoch(n), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return epoch(n), true
		}
	}
	return time.Time{}, false
}

func epoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	var f float64
	var err error
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("not a number")
	}
	if err != nil {
		return math.NaN()
	}
	return f
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		n, err := t.Int64()
		return err == nil && n != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	}
	return false
}
