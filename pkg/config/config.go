// Package config provides configuration loading and management for particlecount3d.
// It handles loading configuration from YAML files, environment overrides and default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Pipeline variants
const (
	PipelineSpots = "spots"
	PipelineCells = "cells"
)

// Archive formats for the saved object set
const (
	ArchiveZip    = "zip"
	ArchiveSQLite = "sqlite"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for per-slice and per-object work
		NumCores int `yaml:"numCores"`

		// Pipeline selects the "spots" or "cells" segmentation variant
		Pipeline string `yaml:"pipeline"`

		// MedianRadius is the radius of the per-slice median denoising filter (0 disables it)
		MedianRadius int `yaml:"medianRadius"`

		// UseOpenCV switches the median filter to the OpenCV implementation
		UseOpenCV bool `yaml:"useOpenCV"`

		// ClearOutside zeroes voxels outside a polygonal ROI after cropping
		ClearOutside bool `yaml:"clearOutside"`

		// TopHat configures the optional white top-hat background suppression
		TopHat struct {
			Enabled bool `yaml:"enabled"`
			RadiusX int  `yaml:"radiusX"`
			RadiusY int  `yaml:"radiusY"`
			RadiusZ int  `yaml:"radiusZ"`
		} `yaml:"topHat"`
	} `yaml:"processing"`

	// Calibration used when the input stack carries no calibration of its own
	Calibration struct {
		VoxelX float64 `yaml:"voxelX"`
		VoxelY float64 `yaml:"voxelY"`
		VoxelZ float64 `yaml:"voxelZ"`
		Unit   string  `yaml:"unit"`
	} `yaml:"calibration"`

	// Filter parameters
	Filter struct {
		// MinVolume is the minimum object volume in physical units cubed
		MinVolume float64 `yaml:"minVolume"`

		// FilterBorderZ also removes objects touching the first or last slice
		FilterBorderZ bool `yaml:"filterBorderZ"`
	} `yaml:"filter"`

	// Watershed parameters
	Watershed struct {
		SeedThreshold  float64 `yaml:"seedThreshold"`
		ImageThreshold float64 `yaml:"imageThreshold"`
		PeakFlooding   float64 `yaml:"peakFlooding"`
		AllowSplit     bool    `yaml:"allowSplit"`
	} `yaml:"watershed"`

	// Detection parameters for the seed generator
	Detection struct {
		// Radius is the expected object radius in physical units
		Radius float64 `yaml:"radius"`

		// Threshold is the minimum LoG quality of a peak
		Threshold float64 `yaml:"threshold"`

		SubVoxel     bool `yaml:"subVoxel"`
		MedianFilter bool `yaml:"medianFilter"`
	} `yaml:"detection"`

	// RegionGrow parameters for iterative thresholding
	RegionGrow struct {
		MinVolume      int     `yaml:"minVolume"`
		MaxVolume      int     `yaml:"maxVolume"`
		MinContrast    float64 `yaml:"minContrast"`
		Step           float64 `yaml:"step"`
		StartThreshold float64 `yaml:"startThreshold"`

		// Criteria is one of "edges", "mser", "elongation"
		Criteria string `yaml:"criteria"`

		// Split is one of "kmeans", "contrast"
		Split string `yaml:"split"`
	} `yaml:"regionGrow"`

	// ROI acquisition parameters
	ROI struct {
		// Attempts is the number of acquisition attempts before giving up
		Attempts int `yaml:"attempts"`

		// Interval is the wait between attempts
		Interval time.Duration `yaml:"interval"`
	} `yaml:"roi"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save preview slices of each stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where previews are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Archive selects the object archive format ("zip" or "sqlite")
		Archive string `yaml:"archive"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Pipeline = PipelineSpots
	cfg.Processing.MedianRadius = 2
	cfg.Processing.TopHat.RadiusX = 5
	cfg.Processing.TopHat.RadiusY = 5
	cfg.Processing.TopHat.RadiusZ = 2

	cfg.Calibration.VoxelX = 1
	cfg.Calibration.VoxelY = 1
	cfg.Calibration.VoxelZ = 1
	cfg.Calibration.Unit = "pixel"

	cfg.Filter.MinVolume = 0.05
	cfg.Filter.FilterBorderZ = false

	// H-watershed settings
	cfg.Watershed.SeedThreshold = 150
	cfg.Watershed.ImageThreshold = 400
	cfg.Watershed.PeakFlooding = 100
	cfg.Watershed.AllowSplit = true

	cfg.Detection.Radius = 2.5
	cfg.Detection.Threshold = 10
	cfg.Detection.SubVoxel = true

	cfg.RegionGrow.MinVolume = 20
	cfg.RegionGrow.MaxVolume = 100000
	cfg.RegionGrow.MinContrast = 50
	cfg.RegionGrow.Step = 50
	cfg.RegionGrow.StartThreshold = 400
	cfg.RegionGrow.Criteria = "edges"
	cfg.RegionGrow.Split = "kmeans"

	cfg.ROI.Attempts = 5
	cfg.ROI.Interval = 2 * time.Second

	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true
	cfg.Output.Archive = ArchiveZip

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected settings from PC3D_* environment variables
func (c *Config) ApplyEnv() {
	c.Processing.NumCores = getEnvAsInt("PC3D_NUM_CORES", c.Processing.NumCores)
	c.Processing.Pipeline = getEnv("PC3D_PIPELINE", c.Processing.Pipeline)
	c.Filter.MinVolume = getEnvAsFloat("PC3D_MIN_VOLUME", c.Filter.MinVolume)
	c.Filter.FilterBorderZ = getEnvAsBool("PC3D_FILTER_BORDER_Z", c.Filter.FilterBorderZ)
	c.Calibration.Unit = getEnv("PC3D_UNIT", c.Calibration.Unit)
	c.Output.Archive = getEnv("PC3D_ARCHIVE", c.Output.Archive)
	c.Output.Verbose = getEnvAsBool("PC3D_VERBOSE", c.Output.Verbose)
}

// Validate checks enumerated values and physical parameters
func (c *Config) Validate() error {
	switch c.Processing.Pipeline {
	case PipelineSpots, PipelineCells:
	default:
		return fmt.Errorf("unknown pipeline %q (must be %s or %s)", c.Processing.Pipeline, PipelineSpots, PipelineCells)
	}

	switch c.Output.Archive {
	case ArchiveZip, ArchiveSQLite:
	default:
		return fmt.Errorf("unknown archive format %q", c.Output.Archive)
	}

	switch c.RegionGrow.Criteria {
	case "edges", "mser", "elongation":
	default:
		return fmt.Errorf("unknown region grow criteria %q", c.RegionGrow.Criteria)
	}

	switch c.RegionGrow.Split {
	case "kmeans", "contrast":
	default:
		return fmt.Errorf("unknown region grow split method %q", c.RegionGrow.Split)
	}

	if c.Calibration.VoxelX <= 0 || c.Calibration.VoxelY <= 0 || c.Calibration.VoxelZ <= 0 {
		return fmt.Errorf("voxel sizes must be positive")
	}

	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1")
	}

	if c.ROI.Attempts < 1 {
		return fmt.Errorf("roi attempts must be at least 1")
	}

	if c.Watershed.PeakFlooding < 0 || c.Watershed.PeakFlooding > 100 {
		return fmt.Errorf("peakFlooding must be within [0, 100]")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
