package model

import (
	"github.com/twpayne/go-geom"
)

// Territory levels.
const (
	LevelCountry = 1
	LevelState   = 2
	LevelCity    = 3
)

// Territory is a node in a region's country→state→city hierarchy.
// The parent chain is acyclic and strictly increases in level toward the leaf.
type Territory struct {
	ID                 string         `json:"territory_id"`
	RegionID           string         `json:"region_id"`
	Code               string         `json:"territory_code"`
	Name               string         `json:"territory_name"`
	Level              int            `json:"territory_level"`
	ParentID           string         `json:"parent_territory_id,omitempty"`
	Latitude           *float64       `json:"latitude,omitempty"`
	Longitude          *float64       `json:"longitude,omitempty"`
	PopulationEstimate int64          `json:"population_estimate,omitempty"`
	TimezoneOverride   string         `json:"timezone_override,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Active             bool           `json:"active"`
}

// Centroid returns the territory's coordinates as an XY point (lon, lat), or
// nil when coordinates are not recorded.
func (t *Territory) Centroid() *geom.Point {
	if t.Latitude == nil || t.Longitude == nil {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{*t.Longitude, *t.Latitude})
}
