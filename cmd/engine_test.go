package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/pipeline"
)

func TestOfflineEngine_BuildsContextWithoutStore(t *testing.T) {
	eng, err := initOfflineEngine(context.Background(), testConfig(t), "../seeds/regions.yaml")
	require.NoError(t, err)
	defer eng.Close()

	assert.Nil(t, eng.Store)
	assert.Nil(t, eng.Tenants)
	assert.Error(t, requireStore(eng))
	assert.Equal(t, 3, eng.Registry.Stats().Regions)

	rc, err := eng.Builder.BuildRegionPipelineContext(context.Background(), pipeline.Request{
		TenantID:   "acme",
		RegionCode: "US",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceExplicit, rc.Provenance)
	assert.Nil(t, rc.Binding)
	assert.Empty(t, rc.Notes)
}

func TestOfflineEngine_MissingSeed(t *testing.T) {
	_, err := initOfflineEngine(context.Background(), testConfig(t), "does-not-exist.yaml")
	assert.Error(t, err)
}

func TestResolveCommand_Offline(t *testing.T) {
	seed, err := filepath.Abs("../seeds/regions.yaml")
	require.NoError(t, err)
	// No config.yaml in the working directory.
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--seed", seed, "resolve", "Austin, TX", "--region", "US"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		offlineSeed = ""
		resolveRegion = ""
	})
	require.NoError(t, rootCmd.Execute())

	var got struct {
		Territory struct {
			Resolved bool   `json:"resolved"`
			Code     string `json:"territory_code"`
		} `json:"territory"`
		Granularity struct {
			Granularity string `json:"granularity"`
		} `json:"granularity"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Territory.Resolved)
	assert.Equal(t, "US-TX", got.Territory.Code)
	assert.Equal(t, "state", got.Granularity.Granularity)
}
