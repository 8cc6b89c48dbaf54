// Package pipeline wires the preprocessing, seeding, segmentation, object
// extraction, filtering and measurement stages into the spots and cells runs.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"particlecount3d/internal/logger"
	"particlecount3d/internal/models"
	"particlecount3d/pkg/config"
	"particlecount3d/pkg/cvfilter"
	"particlecount3d/pkg/filter"
	"particlecount3d/pkg/measure"
	"particlecount3d/pkg/objects"
	"particlecount3d/pkg/preprocess"
	"particlecount3d/pkg/roi"
	"particlecount3d/pkg/seeds"
	"particlecount3d/pkg/segment"
	"particlecount3d/pkg/visualization"
)

// Params holds the parameters of one run
type Params struct {
	// Pipeline is config.PipelineSpots or config.PipelineCells
	Pipeline string

	NumCores     int
	ClearOutside bool

	Watershed  segment.Watershed
	RegionGrow segment.IterativeThreshold
	Detection  seeds.Params
	Filter     filter.Params

	// IntermediaryDir receives stage previews when non-empty
	IntermediaryDir string
}

// ParamsFromConfig converts a validated configuration into run parameters
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	criteria, err := segment.ParseCriterion(cfg.RegionGrow.Criteria)
	if err != nil {
		return Params{}, err
	}
	split, err := segment.ParseSplitMethod(cfg.RegionGrow.Split)
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Pipeline:     cfg.Processing.Pipeline,
		NumCores:     cfg.Processing.NumCores,
		ClearOutside: cfg.Processing.ClearOutside,
		Watershed: segment.Watershed{
			SeedThreshold:  cfg.Watershed.SeedThreshold,
			ImageThreshold: cfg.Watershed.ImageThreshold,
			PeakFlooding:   cfg.Watershed.PeakFlooding,
			AllowSplit:     cfg.Watershed.AllowSplit,
		},
		RegionGrow: segment.IterativeThreshold{
			MinVolume:      cfg.RegionGrow.MinVolume,
			MaxVolume:      cfg.RegionGrow.MaxVolume,
			MinContrast:    cfg.RegionGrow.MinContrast,
			Step:           cfg.RegionGrow.Step,
			StartThreshold: cfg.RegionGrow.StartThreshold,
			Criteria:       criteria,
			Split:          split,
		},
		Detection: seeds.Params{
			Radius:       cfg.Detection.Radius,
			Threshold:    cfg.Detection.Threshold,
			SubVoxel:     cfg.Detection.SubVoxel,
			MedianFilter: cfg.Detection.MedianFilter,
		},
		Filter: filter.Params{
			MinVolume: cfg.Filter.MinVolume,
			BorderZ:   cfg.Filter.FilterBorderZ,
		},
	}
	if cfg.Output.SaveIntermediaryResults {
		p.IntermediaryDir = cfg.Output.IntermediaryDir
	}
	return p, nil
}

// FiltersFromConfig builds the denoising and background filters of a configuration
func FiltersFromConfig(cfg *config.Config) (denoise, background preprocess.MorphologicalFilter) {
	workers := cfg.Processing.NumCores
	if cfg.Processing.MedianRadius > 0 {
		if cfg.Processing.UseOpenCV {
			denoise = cvfilter.NewMedian(cfg.Processing.MedianRadius, workers)
		} else {
			denoise = preprocess.MedianFilter{Radius: cfg.Processing.MedianRadius, Workers: workers}
		}
	}
	if th := cfg.Processing.TopHat; th.Enabled {
		background = preprocess.TopHatFilter{RadiusX: th.RadiusX, RadiusY: th.RadiusY, RadiusZ: th.RadiusZ, Workers: workers}
	}
	return denoise, background
}

// Result is the outcome of a successful run
type Result struct {
	// RunID identifies the run in logs
	RunID string

	// Labels is the consolidated labeling in the cropped frame
	Labels *models.LabelVolume

	// Population holds the kept objects, remapped into the source frame
	Population *objects.Population

	// Removed holds the filtered-out objects in the cropped frame
	Removed *objects.Population

	Peaks []seeds.Peak
	Table measure.Table
}

// Processor runs the pipeline. Detector and Engine may be replaced before Run;
// by default the LoG detector and the configured watershed are used.
type Processor struct {
	params Params

	Denoise    preprocess.MorphologicalFilter
	Background preprocess.MorphologicalFilter
	Detector   seeds.SeedDetector
	Engine     segment.SegmentationEngine

	log zerolog.Logger
}

// NewProcessor creates a processor with the default detector and engine
func NewProcessor(params Params, log zerolog.Logger) *Processor {
	return &Processor{
		params:   params,
		Detector: seeds.LoGDetector{Workers: params.NumCores},
		log:      log,
	}
}

// Run processes the region of a source volume. No stage mutates its input.
func (p *Processor) Run(ctx context.Context, vol *models.Volume, region roi.Region) (*Result, error) {
	runID := uuid.New().String()
	log := p.log.With().Str("run", runID).Str("pipeline", p.params.Pipeline).Logger()
	res := &Result{RunID: runID}

	if vol.Empty() {
		return nil, stageError(StageInput, ErrNoInputVolume)
	}

	// Preprocess
	start := time.Now()
	pre := preprocess.Preprocessor{Denoise: p.Denoise, Background: p.Background, ClearOutside: p.params.ClearOutside}
	denoised, prepared, err := pre.Run(vol, region)
	if err != nil {
		return nil, stageError(StagePreprocess, err)
	}
	p.done(log, StagePreprocess, start).Str("size", prepared.String()).Msg("Volume preprocessed")
	p.preview(log, StagePreprocess, prepared)

	if err := ctx.Err(); err != nil {
		return nil, stageError(StagePreprocess, err)
	}

	// Segment
	var labels *models.LabelVolume
	switch p.params.Pipeline {
	case config.PipelineCells:
		labels, res.Peaks, err = p.segmentCells(ctx, log, prepared)
	default:
		labels, err = p.segmentSpots(log, prepared)
	}
	if err != nil {
		return nil, err
	}

	start = time.Now()
	labels = segment.Components(labels, 1, 0)
	res.Labels = labels
	p.done(log, StageConsolidate, start).Int32("objects", labels.MaxLabel()).Msg("Labels consolidated")
	p.preview(log, StageConsolidate, labels)

	if err := ctx.Err(); err != nil {
		return nil, stageError(StageConsolidate, err)
	}

	// Extract
	start = time.Now()
	pop, err := objects.Extract(labels, denoised, objects.Options{Workers: p.params.NumCores})
	if err != nil {
		return nil, stageError(StageExtract, err)
	}
	p.done(log, StageExtract, start).Int("objects", pop.Len()).Msg("Objects extracted")

	// Filter and remap
	start = time.Now()
	kept, removed := filter.Apply(pop, p.params.Filter)
	res.Removed = removed
	p.done(log, StageFilter, start).Int("kept", kept.Len()).Int("removed", removed.Len()).Msg("Objects filtered")

	x0, y0, z0 := region.Origin()
	res.Population = filter.Remap(kept, models.Offset{DX: x0, DY: y0, DZ: z0})
	log.Debug().Str("stage", StageRemap).Int("dx", x0).Int("dy", y0).Int("dz", z0).Msg("Objects remapped")

	res.Table = measure.Aggregate(res.Population)
	log.Info().Str("stage", StageMeasure).Int("rows", res.Table.Len()).Msg("Measurements aggregated")

	return res, nil
}

// segmentSpots floods the significant intensity maxima directly
func (p *Processor) segmentSpots(log zerolog.Logger, v *models.Volume) (*models.LabelVolume, error) {
	start := time.Now()
	engine := p.Engine
	if engine == nil {
		engine = p.params.Watershed
	}

	labels, err := engine.Segment(v, nil)
	if err != nil {
		return nil, stageError(StageSegment, err)
	}
	p.done(log, StageSegment, start).Int("regions", len(labels.Distinct())).Msg("Volume segmented")
	return labels, nil
}

// segmentCells grows the foreground by iterative thresholding, then floods LoG
// markers restricted to it
func (p *Processor) segmentCells(ctx context.Context, log zerolog.Logger, v *models.Volume) (*models.LabelVolume, []seeds.Peak, error) {
	start := time.Now()
	mask, err := p.params.RegionGrow.Segment(v, nil)
	if err != nil {
		return nil, nil, stageError(StageMask, err)
	}
	p.done(log, StageMask, start).Int32("regions", mask.MaxLabel()).Msg("Foreground mask grown")
	p.preview(log, StageMask, mask)

	if err := ctx.Err(); err != nil {
		return nil, nil, stageError(StageMask, err)
	}

	start = time.Now()
	markers, peaks, err := seeds.Generate(p.Detector, v, p.params.Detection)
	if err != nil {
		return nil, nil, stageError(StageSeeds, err)
	}
	p.done(log, StageSeeds, start).Int("peaks", len(peaks)).Msg("Seeds detected")
	p.preview(log, StageSeeds, markers)

	if err := ctx.Err(); err != nil {
		return nil, nil, stageError(StageSeeds, err)
	}

	start = time.Now()
	engine := p.Engine
	if engine == nil {
		ws := p.params.Watershed
		ws.Mask = mask
		engine = ws
	}
	labels, err := engine.Segment(v, markers)
	if err != nil {
		return nil, nil, stageError(StageSegment, err)
	}
	p.done(log, StageSegment, start).Int("regions", len(labels.Distinct())).Msg("Volume segmented")

	return labels, peaks, nil
}

func (p *Processor) done(log zerolog.Logger, stage string, start time.Time) *zerolog.Event {
	stageLog := logger.Stage(log, stage)
	return stageLog.Info().Dur("duration", time.Since(start))
}

// preview writes stage slices when intermediary results are enabled. Failures
// are logged, they never fail the run.
func (p *Processor) preview(log zerolog.Logger, stage string, result interface{}) {
	if p.params.IntermediaryDir == "" {
		return
	}
	if err := visualization.SaveStage(p.params.IntermediaryDir, stage, result); err != nil {
		log.Warn().Err(err).Str("stage", stage).Msg("Failed to save stage preview")
	}
}
