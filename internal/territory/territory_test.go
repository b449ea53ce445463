package territory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/resilience"
)

const seedPath = "../../seeds/regions.yaml"

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	loader, err := registry.LoadFixture(seedPath)
	require.NoError(t, err)
	reg := registry.New(loader, registry.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, reg.Initialize(context.Background()))
	return reg
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(newTestRegistry(t), opts...)
}

func ptr(f float64) *float64 { return &f }

// tokensOnly skips the alias tables so resolution must fall to names.
type tokensOnly struct{}

func (tokensOnly) Normalize(loc Location) Normalized {
	var n Normalized
	if f := Fold(loc.Raw); f != "" {
		n.Tokens = []string{f}
	}
	return n
}

func TestResolve_RollsUpToRegionGranularity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// UAE displays at country level.
	got := svc.Resolve(ctx, Location{Country: "AE", State: "DU"}, "UAE")
	require.True(t, got.Resolved)
	assert.Equal(t, "AE", got.Code)
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, "AE-DU", got.MatchedCode)
	assert.Equal(t, []string{"AE"}, got.Codes())
	assert.Equal(t, MethodCode, got.Method)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestResolve_UsesMatchedRegionWhenNoneGiven(t *testing.T) {
	svc := newTestService(t)

	got := svc.Resolve(context.Background(), ParseLocation("Los Angeles, CA"), "")
	require.True(t, got.Resolved)
	assert.Equal(t, "US-CA", got.Code, "US displays at state level")
	assert.Equal(t, "US-CA-LAX", got.MatchedCode)
	assert.Equal(t, []string{"US", "US-CA"}, got.Codes())
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
}

func TestResolve_NeverRollsDown(t *testing.T) {
	svc := newTestService(t)

	// India displays at city level but the match is only a state.
	got := svc.Resolve(context.Background(), ParseLocation("Karnataka"), "IN")
	require.True(t, got.Resolved)
	assert.Equal(t, "IN-KA", got.Code)
	assert.Equal(t, 2, got.Level)

	city := svc.Resolve(context.Background(), ParseLocation("Bangalore, India"), "IN")
	assert.Equal(t, "IN-KA-BLR", city.Code)
	assert.Equal(t, []string{"IN", "IN-KA", "IN-KA-BLR"}, city.Codes())
}

func TestResolveAtLevel_NoRollUp(t *testing.T) {
	svc := newTestService(t)

	got := svc.ResolveAtLevel(context.Background(), ParseLocation("Los Angeles, CA"), "US", 0)
	assert.Equal(t, "US-CA-LAX", got.Code)
	assert.Equal(t, 3, got.Level)

	country := svc.ResolveAtLevel(context.Background(), ParseLocation("Los Angeles, CA"), "US", 1)
	assert.Equal(t, "US", country.Code)
}

func TestResolve_Unresolved(t *testing.T) {
	svc := newTestService(t)

	for _, loc := range []Location{ParseLocation("Atlantis"), {}} {
		got := svc.Resolve(context.Background(), loc, "US")
		assert.False(t, got.Resolved)
		assert.InDelta(t, 0.2, got.Confidence, 1e-9)
		assert.NotNil(t, got.Hierarchy)
		assert.Empty(t, got.Hierarchy)
		assert.Equal(t, MethodNone, got.Method)
		assert.NotEmpty(t, got.Reason)
	}
}

func TestResolve_ScopedToRegion(t *testing.T) {
	svc := newTestService(t)

	got := svc.Resolve(context.Background(), ParseLocation("Los Angeles"), "UAE")
	assert.False(t, got.Resolved, "territories outside the region are ignored")
}

func TestResolve_NameMatch(t *testing.T) {
	svc := newTestService(t, WithNormalizer(tokensOnly{}))

	got := svc.ResolveAtLevel(context.Background(), ParseLocation("Abu Dhabi"), "UAE", 0)
	require.True(t, got.Resolved)
	assert.Equal(t, MethodName, got.Method)
	assert.Equal(t, "AE-AZ", got.Code, "exact name beats the longer city name")
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)

	partial := svc.ResolveAtLevel(context.Background(), ParseLocation("francisco"), "", 0)
	require.True(t, partial.Resolved)
	assert.Equal(t, "US-CA-SFO", partial.Code)
	assert.InDelta(t, 0.4, partial.Confidence, 1e-9)
}

func TestResolve_NearestCentroid(t *testing.T) {
	svc := newTestService(t)

	loc := Location{Latitude: ptr(30.30), Longitude: ptr(-97.70)}
	got := svc.ResolveAtLevel(context.Background(), loc, "", 0)
	require.True(t, got.Resolved)
	assert.Equal(t, MethodNearest, got.Method)
	assert.Equal(t, "US-TX-AUS", got.Code)
	assert.InDelta(t, 0.4, got.Confidence, 1e-9)

	far := svc.ResolveAtLevel(context.Background(), Location{Latitude: ptr(-45), Longitude: ptr(170)}, "", 0)
	assert.False(t, far.Resolved)

	disabled := NewService(newTestRegistry(t), WithNearestRadius(0))
	assert.False(t, disabled.ResolveAtLevel(context.Background(), loc, "", 0).Resolved)
}

func TestResolve_CoordinateBonusCaps(t *testing.T) {
	svc := newTestService(t)

	loc := ParseLocation("Los Angeles, CA")
	loc.Latitude, loc.Longitude = ptr(34.05), ptr(-118.24)
	got := svc.ResolveAtLevel(context.Background(), loc, "", 0)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestGetParentAndChildren(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	parent, ok := svc.GetParentTerritory(ctx, "ae-du")
	require.True(t, ok)
	assert.Equal(t, "AE", parent.Code)

	_, ok = svc.GetParentTerritory(ctx, "AE")
	assert.False(t, ok)

	assert.Len(t, svc.GetChildTerritories(ctx, "AE"), 3)
}

func TestGetTerritoriesAtLevel(t *testing.T) {
	svc := newTestService(t)

	states := svc.GetTerritoriesAtLevel(context.Background(), "US", 2)
	codes := make([]string, 0, len(states))
	for _, s := range states {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []string{"US-CA", "US-NY", "US-TX"}, codes)
}

func TestMatchTerritoryPattern(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		code, pattern string
		want          bool
	}{
		{"US-CA", "us-ca", true},
		{"US-CA-LAX", "US-*", true},
		{"US-CA-LAX", "US-CA", true},
		{"US-CA-LAX", "US", true},
		{"US-CA", "US-CA-LAX", false},
		{"US-CA", "US-NY", false},
		{"AE-DU", "US-*", false},
		{"US-WA-SEA", "US-WA", true},
		{"", "US", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.MatchTerritoryPattern(ctx, tt.code, tt.pattern), "%s ~ %s", tt.code, tt.pattern)
	}
}

func TestCalculateTerritoryDistance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, 0.0, svc.CalculateTerritoryDistance(ctx, "US-CA", "us-ca"))
	assert.InDelta(t, 2.0/6, svc.CalculateTerritoryDistance(ctx, "US-CA-LAX", "US-CA-SFO"), 1e-9)
	assert.InDelta(t, 2.0/6, svc.CalculateTerritoryDistance(ctx, "US", "US-CA-LAX"), 1e-9)
	assert.InDelta(t, 4.0/6, svc.CalculateTerritoryDistance(ctx, "US-NY-NYC", "US-CA-LAX"), 1e-9)
	assert.Equal(t, 1.0, svc.CalculateTerritoryDistance(ctx, "AE-DU", "US-CA"))
	assert.Equal(t, 1.0, svc.CalculateTerritoryDistance(ctx, "", "US-CA"))
}

func TestHeuristicNormalizer(t *testing.T) {
	n := NewHeuristicNormalizer()

	tests := []struct {
		name                 string
		loc                  Location
		country, state, city string
	}{
		{"city alias", ParseLocation("Los Angeles, CA"), "US", "CA", "LAX"},
		{"longest alias wins", ParseLocation("New York City"), "US", "NY", "NYC"},
		{"trailing country code", ParseLocation("Plano, TX, US"), "US", "TX", ""},
		{"bare state code", ParseLocation("Sacramento, CA"), "US", "CA", ""},
		{"country name", ParseLocation("Pune, India"), "IN", "", ""},
		{"accents folded", ParseLocation("Bengalūru"), "IN", "KA", "BLR"},
		{"structured", Location{Country: "United Arab Emirates", State: "du"}, "AE", "DU", ""},
		{"structured city", Location{City: "Mumbai"}, "IN", "MH", "BOM"},
		{"unknown country code", ParseLocation("Paris, FR"), "FR", "", ""},
		{"nothing", ParseLocation("somewhere nice"), "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.loc)
			assert.Equal(t, tt.country, got.Country)
			assert.Equal(t, tt.state, got.State)
			assert.Equal(t, tt.city, got.City)
		})
	}
}

func TestNormalizedCodes(t *testing.T) {
	assert.Equal(t, []string{"US-CA-LAX", "US-CA", "US"}, Normalized{Country: "US", State: "CA", City: "LAX"}.Codes())
	assert.Equal(t, []string{"AE"}, Normalized{Country: "AE"}.Codes())
	assert.Nil(t, Normalized{State: "CA"}.Codes())
}

func TestFold(t *testing.T) {
	assert.Equal(t, "sao paulo", Fold("São Paulo"))
	assert.Equal(t, "zurich", Fold("  Zürich!! "))
	assert.Equal(t, "dubai marina", Fold("Dubai -- Marina"))
	assert.Equal(t, "", Fold(" , "))
}

func TestLocationJSON(t *testing.T) {
	var fromString Location
	require.NoError(t, json.Unmarshal([]byte(`"Dubai, UAE"`), &fromString))
	assert.Equal(t, "Dubai, UAE", fromString.Raw)

	var fromObject Location
	require.NoError(t, json.Unmarshal([]byte(`{"city":"Austin","state":"TX","latitude":30.2}`), &fromObject))
	assert.Equal(t, "Austin", fromObject.City)
	require.NotNil(t, fromObject.Latitude)
	assert.False(t, fromObject.HasCoordinates())
	assert.Equal(t, "Austin, TX", fromObject.String())

	assert.True(t, Location{}.IsEmpty())
	assert.False(t, Location{Latitude: ptr(1), Longitude: ptr(2)}.IsEmpty())
}

func TestHaversineKm(t *testing.T) {
	km := HaversineKm(25.2048, 55.2708, 24.4539, 54.3773)
	assert.InDelta(t, 125, km, 10)
	assert.Equal(t, 0.0, HaversineKm(10, 10, 10, 10))
}
