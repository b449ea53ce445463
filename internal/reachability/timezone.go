package reachability

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TimezoneResult compares an entity's zone with the sales team's.
type TimezoneResult struct {
	Reachable    bool    `json:"reachable"`
	OffsetHours  float64 `json:"offset_hours"`
	OverlapHours float64 `json:"overlap_hours"`
	Error        string  `json:"error,omitempty"`
}

// CheckTimezoneReachability compares the current UTC offsets of two IANA
// zones. maxOffsetHours <= 0 uses the filter default. An unknown zone is
// reachable with offset 0 and the lookup error attached.
func (f *Filter) CheckTimezoneReachability(entityTZ, salesTZ string, maxOffsetHours float64) TimezoneResult {
	if maxOffsetHours <= 0 {
		maxOffsetHours = f.maxOffsetHours
	}

	now := f.now()
	entityOffset, err := zoneOffset(now, entityTZ)
	if err != nil {
		return f.timezoneFailure(entityTZ, err)
	}
	salesOffset, err := zoneOffset(now, salesTZ)
	if err != nil {
		return f.timezoneFailure(salesTZ, err)
	}

	offset := math.Abs(entityOffset-salesOffset) / 3600
	return TimezoneResult{
		Reachable:    offset <= maxOffsetHours,
		OffsetHours:  offset,
		OverlapHours: math.Max(0, f.workdayHours-offset),
	}
}

func (f *Filter) timezoneFailure(zone string, err error) TimezoneResult {
	zap.L().Debug("reachability: timezone lookup failed", zap.String("timezone", zone), zap.Error(err))
	return TimezoneResult{
		Reachable:    true,
		OverlapHours: f.workdayHours,
		Error:        err.Error(),
	}
}

// zoneOffset rejects an empty zone, which LoadLocation would read as UTC.
func zoneOffset(now time.Time, zone string) (float64, error) {
	if strings.TrimSpace(zone) == "" {
		return 0, eris.New("reachability: empty timezone")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, err
	}
	_, off := now.In(loc).Zone()
	return float64(off), nil
}
