package core

import (
	"log/slog"
	"time"
)

// DefaultMapLayer is the render layer the map view draws sightings on
const DefaultMapLayer = "ssemi-map-layer"

type Config struct {
	BaseURL string

	Tokens TokenStorage

	// Optional config
	MasterKey   string // deployment key used for privileged sightings requests
	HTTPTimeout time.Duration
	Backend     Backend // overrides the HTTP gateway built from BaseURL
	Render      RenderSink
	MapLayer    string
	Logger      *slog.Logger
	Now         func() time.Time
}
