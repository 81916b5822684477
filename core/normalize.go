package core

import (
	"encoding/json"
	"log/slog"
	"slices"
)

// DecodeRecords decodes every record, dropping (and logging) the ones that
// fail validation. The batch itself never fails.
func DecodeRecords(raw []json.RawMessage, logger *slog.Logger) []Sighting {
	out := make([]Sighting, 0, len(raw))
	for i, r := range raw {
		s, err := DecodeRecord(r)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping malformed sighting record", "index", i, "error", err)
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Dedupe keeps the first occurrence of each id
func Dedupe(records []Sighting) []Sighting {
	seen := make(map[string]struct{}, len(records))
	out := make([]Sighting, 0, len(records))
	for _, s := range records {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SortChronologically returns a copy of records ordered by timestamp,
// ties keeping their original fetch order.
func SortChronologically(records []Sighting) []Sighting {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b Sighting) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// ToMappable keeps the records that can be placed on a map
func ToMappable(records []Sighting, logger *slog.Logger) []Sighting {
	out := make([]Sighting, 0, len(records))
	for _, s := range records {
		if !s.Location.Valid() {
			if logger != nil {
				logger.Debug("dropping sighting with malformed coordinates", "id", s.ID)
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// ToFeatureCollection builds the render payload for records
func ToFeatureCollection(records []Sighting) FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(records)),
	}
	for _, s := range records {
		fc.Features = append(fc.Features, s.Feature())
	}
	return fc
}

// ExtractOptions collects distinct species and contributors in first-seen order
func ExtractOptions(records []Sighting) MapOptions {
	opts := MapOptions{Species: []string{}, Contributors: []string{}}
	species := make(map[string]struct{})
	contributors := make(map[string]struct{})

	for _, s := range records {
		if _, ok := species[s.Species]; !ok && s.Species != "" {
			species[s.Species] = struct{}{}
			opts.Species = append(opts.Species, s.Species)
		}
		if _, ok := contributors[s.Contributor]; !ok && s.Contributor != "" {
			contributors[s.Contributor] = struct{}{}
			opts.Contributors = append(opts.Contributors, s.Contributor)
		}
	}
	return opts
}

// LastOf returns the chronologically final record, or the empty placeholder
func LastOf(records []Sighting) Sighting {
	if len(records) == 0 {
		return Sighting{}
	}
	return records[len(records)-1]
}

// Normalize runs the whole pipeline over a batch of raw records
func Normalize(raw []json.RawMessage, logger *slog.Logger) Dataset {
	records := DecodeRecords(raw, logger)
	records = Dedupe(records)
	records = SortChronologically(records)
	records = ToMappable(records, logger)

	return Dataset{
		Sightings: records,
		Last:      LastOf(records),
		Options:   ExtractOptions(records),
	}
}

// ToDocuments keys raw records by sighting id for publishing into a
// replicated collection. Malformed records are dropped and the first
// occurrence of an id wins. The raw bytes are kept as the document value.
func ToDocuments(raw []json.RawMessage, logger *slog.Logger) []Document {
	seen := make(map[string]struct{}, len(raw))
	out := make([]Document, 0, len(raw))
	for i, r := range raw {
		s, err := DecodeRecord(r)
		if err != nil {
			if logger != nil {
				logger.Warn("not publishing malformed record", "index", i, "error", err)
			}
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, Document{Key: s.ID, Value: r})
	}
	return out
}
