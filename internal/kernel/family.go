// Package kernel synthesizes distance-decay kernel rasters. Kernels are
// built and persisted one row at a time so a large search radius never
// materializes the full kernel square in memory.
package kernel

import (
	"fmt"
	"math"
	"strings"
)

// WeightFunc maps a center-to-center ground distance and the search radius
// to a decay weight. Implementations are pure; the builder zeroes weights
// beyond the radius itself.
type WeightFunc func(dist, radius float64) float64

// Family is the decay-function variant. New families are added by extending
// this set with a pure WeightFunc, not by subtyping.
type Family int

const (
	// Binary weights every cell within the radius 1 and everything else 0
	// (instantaneous decay).
	Binary Family = iota
	// Linear decays from 1 at the center to 0 at the radius.
	Linear
	// Gaussian decays as exp(-d²/2σ²) with σ = radius/3.
	Gaussian
	// Exponential decays as exp(-3d/radius), about 0.05 at the radius.
	Exponential
	// Power decays as (1 + 9d/radius)^-2, a heavy-tailed power law that
	// reaches 0.01 at the radius.
	Power
)

var familyNames = map[Family]string{
	Binary:      "binary",
	Linear:      "linear",
	Gaussian:    "gaussian",
	Exponential: "exponential",
	Power:       "power",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ParseFamily resolves a configured decay-function name. Unknown names are
// an error; a missing or misspelled family must fail loudly, never default.
func ParseFamily(name string) (Family, error) {
	for f, n := range familyNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return f, nil
		}
	}
	return 0, &KernelError{Reason: fmt.Sprintf("unknown decay family %q", name)}
}

// Weight returns the family's distance→weight function.
func (f Family) Weight() WeightFunc {
	switch f {
	case Binary:
		return func(dist, radius float64) float64 {
			if dist <= radius {
				return 1
			}
			return 0
		}
	case Linear:
		return func(dist, radius float64) float64 {
			if dist > radius {
				return 0
			}
			return 1 - dist/radius
		}
	case Gaussian:
		return func(dist, radius float64) float64 {
			if dist > radius {
				return 0
			}
			sigma := radius / 3
			return math.Exp(-(dist * dist) / (2 * sigma * sigma))
		}
	case Exponential:
		return func(dist, radius float64) float64 {
			if dist > radius {
				return 0
			}
			return math.Exp(-3 * dist / radius)
		}
	case Power:
		return func(dist, radius float64) float64 {
			if dist > radius {
				return 0
			}
			x := 1 + 9*dist/radius
			return 1 / (x * x)
		}
	}
	return nil
}
