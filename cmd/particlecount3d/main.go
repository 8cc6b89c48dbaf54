package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"

	"particlecount3d/internal/logger"
	"particlecount3d/internal/models"
	"particlecount3d/pkg/config"
	"particlecount3d/pkg/export"
	"particlecount3d/pkg/pipeline"
	"particlecount3d/pkg/roi"
	"particlecount3d/pkg/stack"
)

// options are the command line settings of one invocation
type options struct {
	InputDir   string
	OutputDir  string
	ConfigPath string
	EnvFile    string
	Rect       string
	ROIFile    string
	FirstSlice int
	LastSlice  int
	Pipeline   string
	Verbose    bool
}

func main() {
	parser := argparse.NewParser("particlecount3d", "Count and measure particles in a 3D image stack")
	inputDir := parser.String("i", "input", &argparse.Options{Help: "Directory containing the image slices", Default: ""})
	outputDir := parser.String("o", "output", &argparse.Options{Help: "Directory for the results (default: the input directory)", Default: ""})
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: "config.yaml"})
	envFile := parser.String("", "env", &argparse.Options{Help: "Environment file with PC3D_* overrides", Default: ".env"})
	rect := parser.String("", "roi", &argparse.Options{Help: "Rectangular region of interest as x,y,w,h", Default: ""})
	roiFile := parser.String("", "roi-file", &argparse.Options{Help: "YAML region file to wait for", Default: ""})
	firstSlice := parser.Int("", "first-slice", &argparse.Options{Help: "First slice of a --roi region", Default: 0})
	lastSlice := parser.Int("", "last-slice", &argparse.Options{Help: "Last slice of a --roi region (-1 for the last slice of the stack)", Default: -1})
	pipelineName := parser.String("p", "pipeline", &argparse.Options{Help: "Override the configured pipeline (spots or cells)", Default: ""})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Verbose console logging", Default: false})
	writeConfig := parser.Flag("", "write-config", &argparse.Options{Help: "Write the default configuration to the --config path and exit", Default: false})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputDir == "" {
		fmt.Print(parser.Usage(fmt.Errorf("--input is required")))
		os.Exit(1)
	}

	opts := options{
		InputDir:   *inputDir,
		OutputDir:  *outputDir,
		ConfigPath: *configPath,
		EnvFile:    *envFile,
		Rect:       *rect,
		ROIFile:    *roiFile,
		FirstSlice: *firstSlice,
		LastSlice:  *lastSlice,
		Pipeline:   *pipelineName,
		Verbose:    *verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewConsole(cfg.Output.Verbose || opts.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csvPath, err := run(ctx, cfg, opts, log)
	if err != nil {
		log.Error().Err(err).Msg("Particle count failed")
		os.Exit(1)
	}
	log.Info().Msgf("Results were saved as %s", csvPath)
}

// loadConfig reads the env file, the YAML file and the environment, in that
// order, then applies command line overrides
func loadConfig(opts options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if opts.Pipeline != "" {
		cfg.Processing.Pipeline = opts.Pipeline
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run processes one stack and writes its results. Nothing is written unless
// the pipeline succeeds.
func run(ctx context.Context, cfg *config.Config, opts options, log zerolog.Logger) (string, error) {
	cal := models.Calibration{
		VoxelX: cfg.Calibration.VoxelX,
		VoxelY: cfg.Calibration.VoxelY,
		VoxelZ: cfg.Calibration.VoxelZ,
		Unit:   cfg.Calibration.Unit,
	}

	start := time.Now()
	vol, err := stack.LoadSlices(opts.InputDir, cal, cfg.Processing.NumCores)
	if err != nil {
		return "", err
	}
	log.Info().Str("size", vol.String()).Dur("duration", time.Since(start)).Msg("Stack loaded")

	acquirer, err := newAcquirer(opts, vol)
	if err != nil {
		return "", err
	}
	region, err := roi.AcquireWithRetry(ctx, acquirer, cfg.ROI.Attempts, cfg.ROI.Interval)
	if err != nil {
		return "", err
	}
	log.Info().Str("roi", region.String()).Msg("Region of interest acquired")

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		return "", err
	}
	if params.IntermediaryDir != "" && !filepath.IsAbs(params.IntermediaryDir) {
		params.IntermediaryDir = filepath.Join(outputDir(opts), params.IntermediaryDir)
	}

	proc := pipeline.NewProcessor(params, log)
	proc.Denoise, proc.Background = pipeline.FiltersFromConfig(cfg)

	res, err := proc.Run(ctx, vol, region)
	if err != nil {
		return "", err
	}
	log.Info().Str("run", res.RunID).Int("objects", res.Population.Len()).Int("removed", res.Removed.Len()).Msg("Pipeline finished")

	return save(cfg, opts, region, res)
}

func save(cfg *config.Config, opts options, region roi.Region, res *pipeline.Result) (string, error) {
	dir := outputDir(opts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}

	base, err := export.UniqueBaseName(dir, filepath.Base(filepath.Clean(opts.InputDir)))
	if err != nil {
		return "", err
	}

	archive, err := export.NewArchive(cfg.Output.Archive)
	if err != nil {
		return "", err
	}

	csvPath := base + ".csv"
	err = export.WriteAll(
		export.Output{Path: csvPath, Write: func(path string) error {
			return export.WriteCSV(path, res.Table)
		}},
		export.Output{Path: export.ArchivePath(base, archive), Write: func(path string) error {
			return archive.Write(path, res.Population)
		}},
		export.Output{Path: base + ".roi.yaml", Write: func(path string) error {
			return roi.Save(path, region)
		}},
	)
	if err != nil {
		return "", err
	}
	return csvPath, nil
}

func outputDir(opts options) string {
	if opts.OutputDir != "" {
		return opts.OutputDir
	}
	return opts.InputDir
}

// newAcquirer picks the region source. Without --roi or --roi-file the whole
// stack is used.
func newAcquirer(opts options, vol *models.Volume) (roi.Acquirer, error) {
	switch {
	case opts.Rect != "" && opts.ROIFile != "":
		return nil, fmt.Errorf("--roi and --roi-file are mutually exclusive")
	case opts.ROIFile != "":
		return roi.File{Path: opts.ROIFile}, nil
	case opts.Rect != "":
		r, err := parseRect(opts.Rect, opts.FirstSlice, opts.LastSlice)
		if err != nil {
			return nil, err
		}
		return roi.Static{Region: r}, nil
	default:
		return roi.Static{Region: roi.NewRectangle(0, 0, vol.Width, vol.Height, 0, -1)}, nil
	}
}

// parseRect parses "x,y,w,h"
func parseRect(s string, firstSlice, lastSlice int) (roi.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return roi.Region{}, fmt.Errorf("invalid --roi %q (expected x,y,w,h)", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return roi.Region{}, fmt.Errorf("invalid --roi %q: %w", s, err)
		}
		v[i] = n
	}
	return roi.NewRectangle(v[0], v[1], v[2], v[3], firstSlice, lastSlice), nil
}
