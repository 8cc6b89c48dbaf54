package pipeline

import (
	"fmt"

	"particlecount3d/pkg/stack"
)

// ErrNoInputVolume is returned when there is no image to process
var ErrNoInputVolume = stack.ErrNoImages

// Stage names used in errors and logs
const (
	StageInput       = "input"
	StagePreprocess  = "preprocess"
	StageMask        = "mask"
	StageSeeds       = "seeds"
	StageSegment     = "segment"
	StageConsolidate = "consolidate"
	StageExtract     = "extract"
	StageFilter      = "filter"
	StageRemap       = "remap"
	StageMeasure     = "measure"
)

// StageError reports which pipeline stage failed
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
