//go:build !opencv

// Package cvfilter provides denoising filters backed by OpenCV when the module
// is built with the opencv tag, and by the pure Go filters otherwise.
package cvfilter

import (
	"particlecount3d/pkg/preprocess"
)

// Available reports whether OpenCV filters are compiled in
func Available() bool { return false }

// NewMedian returns a per-slice median filter of the given radius
func NewMedian(radius, workers int) preprocess.MorphologicalFilter {
	return preprocess.MedianFilter{Radius: radius, Workers: workers}
}
