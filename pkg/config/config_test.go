package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, PipelineSpots, cfg.Processing.Pipeline)
	assert.Equal(t, 2, cfg.Processing.MedianRadius)
	assert.Equal(t, 0.05, cfg.Filter.MinVolume)
	assert.False(t, cfg.Filter.FilterBorderZ)
	assert.Equal(t, 150.0, cfg.Watershed.SeedThreshold)
	assert.Equal(t, 400.0, cfg.Watershed.ImageThreshold)
	assert.Equal(t, 100.0, cfg.Watershed.PeakFlooding)
	assert.Equal(t, 5, cfg.ROI.Attempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Watershed, cfg.Watershed)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Pipeline = PipelineCells
	cfg.Filter.MinVolume = 12.5
	cfg.ROI.Interval = 750 * time.Millisecond
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, PipelineCells, loaded.Processing.Pipeline)
	assert.Equal(t, 12.5, loaded.Filter.MinVolume)
	assert.Equal(t, 750*time.Millisecond, loaded.ROI.Interval)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("filter:\n  minVolume: 3\n  filterBorderZ: true\nroi:\n  interval: 10ms\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Filter.MinVolume)
	assert.True(t, cfg.Filter.FilterBorderZ)
	assert.Equal(t, 10*time.Millisecond, cfg.ROI.Interval)
	assert.Equal(t, 400.0, cfg.Watershed.ImageThreshold)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PC3D_PIPELINE", PipelineCells)
	t.Setenv("PC3D_MIN_VOLUME", "7.5")
	t.Setenv("PC3D_FILTER_BORDER_Z", "true")
	t.Setenv("PC3D_NUM_CORES", "not-a-number")

	cfg := DefaultConfig()
	cores := cfg.Processing.NumCores
	cfg.ApplyEnv()

	assert.Equal(t, PipelineCells, cfg.Processing.Pipeline)
	assert.Equal(t, 7.5, cfg.Filter.MinVolume)
	assert.True(t, cfg.Filter.FilterBorderZ)
	assert.Equal(t, cores, cfg.Processing.NumCores)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PC3D_UNIT=um\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PC3D_UNIT") })

	require.NoError(t, LoadEnvFile(path))
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "um", cfg.Calibration.Unit)

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"pipeline", func(c *Config) { c.Processing.Pipeline = "blobs" }},
		{"archive", func(c *Config) { c.Output.Archive = "tar" }},
		{"criteria", func(c *Config) { c.RegionGrow.Criteria = "area" }},
		{"split", func(c *Config) { c.RegionGrow.Split = "otsu" }},
		{"calibration", func(c *Config) { c.Calibration.VoxelZ = 0 }},
		{"cores", func(c *Config) { c.Processing.NumCores = 0 }},
		{"attempts", func(c *Config) { c.ROI.Attempts = 0 }},
		{"flooding", func(c *Config) { c.Watershed.PeakFlooding = 150 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
