// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import "math"

// Saturation clamps a signal to a symmetric magnitude limit. The configured
// limit is always non-negative, so the pass band is [-limit, limit].
type Saturation struct {
	limit  float64
	output float64
}

// NewSaturation returns a new Saturation with the given limit and initial
// output.
func NewSaturation(limit, initOutput float64) *Saturation {
	return &Saturation{
		limit,      // limit
		initOutput, // output
	}
}

// Advance runs one sample through the saturation and returns the output.
func (s *Saturation) Advance(input float64) float64 {
	switch {
	case input > s.limit:
		s.output = s.limit
	case input < -s.limit:
		s.output = -s.limit
	default:
		s.output = input
	}
	return s.output
}

// SetLimit changes the limit after construction. Thread safety is up to
// the caller.
func (s *Saturation) SetLimit(limit float64) {
	s.limit = limit
}

// RateLimit clamps the per-sample delta of a signal. If the difference
// between the input and the prior output exceeds the delta in magnitude,
// the output moves by exactly one delta toward the input.
type RateLimit struct {
	delta  float64
	output float64
}

// NewRateLimit returns a new RateLimit with the given per-sample delta and
// initial output.
func NewRateLimit(delta, initOutput float64) *RateLimit {
	return &RateLimit{
		delta,      // delta
		initOutput, // output
	}
}

// Advance runs one sample through the rate limit and returns the output.
func (r *RateLimit) Advance(input float64) float64 {
	rate := input - r.output
	if math.Abs(rate) > r.delta {
		if rate < 0 {
			r.output -= r.delta
		} else {
			r.output += r.delta
		}
	} else {
		r.output = input
	}
	return r.output
}

// Override sets the stored output without producing a sample. The new value
// is only used as the reference when rating the next input.
func (r *RateLimit) Override(output float64) {
	r.output = output
}

// VectorRateLimit applies one scalar rate limit per vector component, all
// sharing a single per-sample delta.
type VectorRateLimit struct {
	lim [3]RateLimit
}

// NewVectorRateLimit returns a new VectorRateLimit with the given per-sample
// delta and initial output.
func NewVectorRateLimit(delta float64, initOutput Vector3) *VectorRateLimit {
	return &VectorRateLimit{
		[3]RateLimit{
			{delta, initOutput[0]},
			{delta, initOutput[1]},
			{delta, initOutput[2]},
		},
	}
}

// Advance runs one sample through all three rate limits.
func (v *VectorRateLimit) Advance(input Vector3) Vector3 {
	return Vector3{
		v.lim[0].Advance(input[0]),
		v.lim[1].Advance(input[1]),
		v.lim[2].Advance(input[2]),
	}
}

// Override sets all three stored outputs without producing a sample.
func (v *VectorRateLimit) Override(output Vector3) {
	v.lim[0].Override(output[0])
	v.lim[1].Override(output[1])
	v.lim[2].Override(output[2])
}
