// Package filter drops objects that are too small or cut by the volume border,
// and maps the survivors back into the frame of the full stack.
package filter

import (
	"particlecount3d/internal/models"
	"particlecount3d/pkg/objects"
)

// Params holds the object filter settings
type Params struct {
	// MinVolume is the smallest kept volume, in calibrated units
	MinVolume float64

	// BorderZ also removes objects touching the first or last slice
	BorderZ bool
}

// Apply splits a population into kept and removed objects. An object is removed
// when its volume is below MinVolume, or else when it touches the border. Both
// results keep the input order and frame.
func Apply(pop *objects.Population, p Params) (kept, removed *objects.Population) {
	var keep, drop []objects.Object
	for _, o := range pop.Objects {
		if o.VolumeUnit < p.MinVolume || o.TouchesBorder(p.BorderZ) {
			drop = append(drop, o)
			continue
		}
		keep = append(keep, o)
	}
	return pop.WithObjects(keep), pop.WithObjects(drop)
}

// Remap translates every object so the population sits at offset. The offset
// already applied to the population is accounted for, so remapping twice with
// the same offset moves nothing the second time.
func Remap(pop *objects.Population, offset models.Offset) *objects.Population {
	dx := offset.DX - pop.Offset.DX
	dy := offset.DY - pop.Offset.DY
	dz := offset.DZ - pop.Offset.DZ

	moved := make([]objects.Object, len(pop.Objects))
	for i, o := range pop.Objects {
		moved[i] = o.Translate(dx, dy, dz)
	}

	out := pop.WithObjects(moved)
	out.Offset = offset
	return out
}
