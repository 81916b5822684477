package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Sentinel filter values meaning "no constraint"
const (
	AllSpecies      = "allSpecies"
	AllContributors = "allContributors"
)

// DefaultWindowDays is the length of the default date window
const DefaultWindowDays = 7

// FilterCriteria narrows a dataset for display
type FilterCriteria struct {
	DateBegin    time.Time `json:"dateBegin" validate:"required"`
	DateEnd      time.Time `json:"dateEnd" validate:"required,gtefield=DateBegin"`
	Species      string    `json:"species" validate:"required"`
	Contributor  string    `json:"contributor" validate:"required"`
	VerifiedOnly bool      `json:"verifiedOnly"`
}

var criteriaValidate = validator.New()

// DefaultCriteria returns the last-7-days window ending today, all species and
// contributors, unverified records included.
func DefaultCriteria(now time.Time) FilterCriteria {
	return FilterCriteria{
		DateBegin:   StartOfDay(now.AddDate(0, 0, -DefaultWindowDays)),
		DateEnd:     EndOfDay(now),
		Species:     AllSpecies,
		Contributor: AllContributors,
	}
}

// StartOfDay truncates t to midnight in its own location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's day
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// Matches reports whether s passes every constraint of c
func (c FilterCriteria) Matches(s Sighting) bool {
	if s.Timestamp.Before(c.DateBegin) || s.Timestamp.After(c.DateEnd) {
		return false
	}
	if c.Species != AllSpecies && s.Species != c.Species {
		return false
	}
	if c.Contributor != AllContributors && s.Contributor != c.Contributor {
		return false
	}
	if c.VerifiedOnly && !s.Verified {
		return false
	}
	return true
}

// Apply returns the records of dataset matching criteria, in input order.
// It never modifies dataset.
func Apply(dataset []Sighting, criteria FilterCriteria) []Sighting {
	out := make([]Sighting, 0, len(dataset))
	for _, s := range dataset {
		if criteria.Matches(s) {
			out = append(out, s)
		}
	}
	return out
}

// ValidateCriteria checks the window ordering and that species/contributor
// come from options or are the "all" sentinel.
func ValidateCriteria(c FilterCriteria, options MapOptions) error {
	if err := criteriaValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	if c.Species != AllSpecies && !slices.Contains(options.Species, c.Species) {
		return fmt.Errorf("%w: unknown species %q", ErrValidationFailure, c.Species)
	}
	if c.Contributor != AllContributors && !slices.Contains(options.Contributors, c.Contributor) {
		return fmt.Errorf("%w: unknown contributor %q", ErrValidationFailure, c.Contributor)
	}
	return nil
}
