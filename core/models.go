package core

import (
	"encoding/json"
	"math"
	"time"
)

// Location is a WGS84 coordinate pair
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the pair is a usable map coordinate
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Sighting represents a single reported marine-animal observation
//
// Sightings are never mutated in place; a refresh replaces the whole dataset.
type Sighting struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Species     string         `json:"species"`
	Contributor string         `json:"contributor"`
	Location    Location       `json:"location"`
	Verified    bool           `json:"verified"`
	Metadata    map[string]any `json:"metadata,omitempty"` // provenance, every key we don't recognise
}

// IsZero reports whether s is the empty placeholder record
func (s Sighting) IsZero() bool {
	return s.ID == "" && s.Timestamp.IsZero()
}

// Geometry is a GeoJSON point
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // lon, lat
}

// Feature is the GeoJSON shape consumed by map renderers
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is the payload handed to the render sink
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature returns the map-renderable shape of s
func (s Sighting) Feature() Feature {
	props := make(map[string]any, len(s.Metadata)+5)
	for k, v := range s.Metadata {
		props[k] = v
	}
	props["id"] = s.ID
	props["type"] = s.Species
	props["contributor"] = s.Contributor
	props["created"] = s.Timestamp.Format(time.RFC3339)
	props["verified"] = s.Verified

	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: [2]float64{s.Location.Lon, s.Location.Lat},
		},
		Properties: props,
	}
}

// MapOptions are the selectable filter values derived from the dataset
type MapOptions struct {
	Species      []string `json:"species"`
	Contributors []string `json:"contributors"`
}

// Dataset is the output of the normalization pipeline
type Dataset struct {
	Sightings []Sighting
	Last      Sighting
	Options   MapOptions
}

// User is a cooperative member as returned by the backend
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Organization string `json:"organization,omitempty"`
}

// UserDetails is the login payload kept on the session
type UserDetails struct {
	Token string `json:"-"` // Never expose in JSON
	User  User   `json:"user"`
}

// Session is the client-side authentication state
//
// IsAdmin is only ever derived from UserDetails.User.Role at login.
type Session struct {
	Token         string      `json:"-"` // Never expose in JSON
	Authenticated bool        `json:"authenticated"`
	IsAdmin       bool        `json:"isAdmin"`
	UserDetails   UserDetails `json:"userDetails"`
}

// AuthResult is the body returned by POST /v1/auth/
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIToken is a named bearer token owned by a user
type APIToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the editable part of a user account
type Profile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Extra    json.RawMessage `json:"extra,omitempty"`
	Modified time.Time       `json:"updatedAt"`
}
