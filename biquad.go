// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

// Biquad is a discrete-time, second-order, Direct Form II filter section.
// The a0 coefficient is fixed at 1 and omitted.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	w1, w2     float64
}

// NewBiquad returns a new Biquad with the given section parameters and zero
// initial state.
func NewBiquad(p BiquadSection) *Biquad {
	b := &Biquad{}
	b.SetParams(p)
	return b
}

// SetParams changes the filter coefficients. The internal state is left
// alone; the parameters must not change while Advance is executing.
func (b *Biquad) SetParams(p BiquadSection) {
	b.b0 = p.B0
	b.b1 = p.B1
	b.b2 = p.B2
	b.a1 = p.A1
	b.a2 = p.A2
}

// Reset zeroes the delay elements.
func (b *Biquad) Reset() {
	b.w1 = 0
	b.w2 = 0
}

// SetState sets the two delay elements directly.
func (b *Biquad) SetState(w1, w2 float64) {
	b.w1 = w1
	b.w2 = w2
}

// Advance runs the filter for one sample and returns the new output.
func (b *Biquad) Advance(input float64) float64 {
	// Direct Form II difference equation
	w0 := input - b.a1*b.w1 - b.a2*b.w2
	out := b.b0*w0 + b.b1*b.w1 + b.b2*b.w2

	b.w2 = b.w1
	b.w1 = w0

	return out
}

// BiquadChain cascades the sections a filter declares in use and applies the
// first section's post gain after the last one. A chain declared with fewer
// than the maximum sections produces results identical to running only the
// active sections.
type BiquadChain struct {
	sections []*Biquad
	gain     float64
}

// NewBiquadChain returns a new BiquadChain built from a discrete filter
// description.
func NewBiquadChain(f DiscreteFilt) *BiquadChain {
	n := int(f.SectionsInUse)
	if n < 1 {
		n = 1
	}
	if n > len(f.Biquads) {
		n = len(f.Biquads)
	}
	s := make([]*Biquad, n)
	for i := 0; i < n; i++ {
		s[i] = NewBiquad(f.Biquads[i])
	}
	return &BiquadChain{
		s,                // sections
		f.Biquads[0].Gain, // gain
	}
}

// Advance runs one sample through every active section in series, then
// applies the post gain.
func (c *BiquadChain) Advance(input float64) float64 {
	out := input
	for _, s := range c.sections {
		out = s.Advance(out)
	}
	return out * c.gain
}

// Reset zeroes the state of every section.
func (c *BiquadChain) Reset() {
	for _, s := range c.sections {
		s.Reset()
	}
}
