// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBiquadImpulseResponse(t *testing.T) {
	// first-order high-pass embedded in a biquad section:
	// H(z) = (1 - z^-1) / (1 - 0.5 z^-1)
	b := NewBiquad(BiquadSection{B0: 1, B1: -1, A1: -0.5})

	want := []float64{1, -0.5, -0.25, -0.125, -0.0625}
	in := []float64{1, 0, 0, 0, 0}
	for i, x := range in {
		assert.InDelta(t, want[i], b.Advance(x), 1e-15, "sample %d", i)
	}
}

func TestBiquadZeroStateZeroInput(t *testing.T) {
	b := NewBiquad(BiquadSection{B0: 0.3, B1: 0.2, B2: 0.1, A1: -1.2, A2: 0.5})
	for i := 0; i < 100; i++ {
		assert.Zero(t, b.Advance(0))
	}
}

func TestBiquadReset(t *testing.T) {
	p := BiquadSection{B0: 1, B1: -1, A1: -0.5}
	b := NewBiquad(p)
	b.Advance(1)
	b.Advance(2)
	b.Reset()

	fresh := NewBiquad(p)
	for i := 0; i < 10; i++ {
		x := float64(i) * 0.1
		assert.Equal(t, fresh.Advance(x), b.Advance(x), "sample %d", i)
	}
}

func TestBiquadSetState(t *testing.T) {
	b := NewBiquad(BiquadSection{B1: 1, B2: 1})
	b.SetState(2, 3)
	assert.Equal(t, 5.0, b.Advance(0))
}

// TestBiquadChainSections checks that a chain declared with two sections
// produces the same result as running the two sections by hand, with the
// post gain applied once after the last section.
func TestBiquadChainSections(t *testing.T) {
	s1 := BiquadSection{B0: 1, B1: -1, A1: -0.5, Gain: 2}
	s2 := BiquadSection{B0: 0.5, B1: 0.5, A1: -0.1}

	f := DiscreteFilt{SectionsInUse: 2}
	f.Biquads[0] = s1
	f.Biquads[1] = s2
	// sections three and four carry garbage that must not matter
	f.Biquads[2] = BiquadSection{B0: 99, A1: 99}
	f.Biquads[3] = BiquadSection{B0: -99, A2: 99}

	chain := NewBiquadChain(f)

	b1 := NewBiquad(s1)
	b2 := NewBiquad(s2)

	in := []float64{1, 0.5, -0.25, 0, 3, -3, 0.125}
	for i, x := range in {
		want := b2.Advance(b1.Advance(x)) * s1.Gain
		assert.InDelta(t, want, chain.Advance(x), 1e-15, "sample %d", i)
	}
}

// TestBiquadChainSingleSection checks that declaring one section leaves
// the other three inactive.
func TestBiquadChainSingleSection(t *testing.T) {
	s := BiquadSection{B0: 1, B1: -1, A1: -0.5, Gain: 3}
	f := DiscreteFilt{SectionsInUse: 1}
	f.Biquads[0] = s
	f.Biquads[1] = BiquadSection{B0: 42}

	chain := NewBiquadChain(f)
	single := NewBiquad(s)

	for _, x := range []float64{1, 0, 0, 1, -1} {
		assert.Equal(t, single.Advance(x)*s.Gain, chain.Advance(x))
	}
}
