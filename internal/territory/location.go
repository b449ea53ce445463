package territory

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Location is a free-form entity location. It unmarshals from either a JSON
// string (kept in Raw) or an object with structured fields.
type Location struct {
	Raw       string   `json:"raw,omitempty"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// ParseLocation wraps a free-form location string.
func ParseLocation(s string) Location {
	return Location{Raw: strings.TrimSpace(s)}
}

// IsEmpty reports whether the location carries no text and no coordinates.
func (l Location) IsEmpty() bool {
	return strings.TrimSpace(l.Raw) == "" &&
		strings.TrimSpace(l.City) == "" &&
		strings.TrimSpace(l.State) == "" &&
		strings.TrimSpace(l.Country) == "" &&
		!l.HasCoordinates()
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// String joins the populated parts for logging and display.
func (l Location) String() string {
	if l.Raw != "" {
		return l.Raw
	}
	var parts []string
	for _, p := range []string{l.City, l.State, l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// UnmarshalJSON accepts a string or an object.
func (l *Location) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "territory: decode location string")
		}
		*l = ParseLocation(s)
		return nil
	}
	type plain Location
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return eris.Wrap(err, "territory: decode location object")
	}
	*l = Location(p)
	return nil
}
