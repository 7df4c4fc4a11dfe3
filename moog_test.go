// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestDOFPacketLayout checks the 32-byte big-endian wire layout field by
// field.
func TestDOFPacketLayout(t *testing.T) {
	p := DOFPacket{
		MCW:   MCWNewPosition,
		Roll:  0.25,
		Pitch: -0.5,
		Heave: -0.231,
		Surge: 0.125,
		Yaw:   0.0625,
		Lat:   -0.125,
	}
	b := p.Marshal()
	require.Len(t, b, DOFPacketSize)

	assert.Equal(t, uint32(130), binary.BigEndian.Uint32(b[0:]))

	f := func(off int) float64 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b[off:])))
	}
	assert.Equal(t, 0.25, f(4), "roll")
	assert.Equal(t, -0.5, f(8), "pitch")
	assert.InDelta(t, -0.231, f(12), 1e-7, "heave")
	assert.Equal(t, 0.125, f(16), "surge")
	assert.Equal(t, 0.0625, f(20), "yaw")
	assert.Equal(t, -0.125, f(24), "lateral")
	assert.Zero(t, binary.BigEndian.Uint32(b[28:]), "reserved")
}

// TestParseDOFReply checks the 40-byte reply decode, including the 4-bit
// machine state extraction.
func TestParseDOFReply(t *testing.T) {
	b := make([]byte, DOFReplySize)
	binary.BigEndian.PutUint32(b[0:], FaultEstop|FaultComm)
	binary.BigEndian.PutUint32(b[4:], InfoBaseAtHome)
	binary.BigEndian.PutUint32(b[8:], StateCmdModeDOF|uint32(MBStateEngaged))
	binary.BigEndian.PutUint32(b[12:], math.Float32bits(0.25))
	binary.BigEndian.PutUint32(b[32:], math.Float32bits(-0.5))

	r, err := ParseDOFReply(b)
	require.NoError(t, err)
	assert.Equal(t, FaultEstop|FaultComm, r.LatchedFaults)
	assert.Equal(t, InfoBaseAtHome, r.DiscreteIO)
	assert.Equal(t, MBStateEngaged, r.State())
	assert.Equal(t, 0.25, r.Roll)
	assert.Equal(t, -0.5, r.Lat)

	_, err = ParseDOFReply(b[:39])
	assert.Error(t, err)
}

func TestMBStateStrings(t *testing.T) {
	assert.Equal(t, "IDLE", MBStateIdle.String())
	assert.Equal(t, "FAULT2", MBStateFault2.String())
	assert.Contains(t, MBState(0xF).String(), "UNKNOWN")
}

// TestEnvelopeClamp checks the Z offset and the per-axis envelope bounds.
func TestEnvelopeClamp(t *testing.T) {
	e := DefaultEnvelope

	pos := Vec(10, -10, 10)
	rot := Vec(math.Pi, -math.Pi, math.Pi)
	e.Clamp(&pos, &rot)

	assert.Equal(t, e.PosHigh[0], pos[0])
	assert.Equal(t, e.PosLow[1], pos[1])
	assert.Equal(t, e.PosHigh[2], pos[2])
	assert.Equal(t, e.RotHigh[0], rot[0])
	assert.Equal(t, e.RotLow[1], rot[1])
	assert.Equal(t, e.RotHigh[2], rot[2])

	// in-range values pass through, apart from the Z offset
	pos = Vec(0.1, -0.1, 0.05)
	rot = Vec(0.1, -0.1, 0.2)
	e.Clamp(&pos, &rot)
	assert.Equal(t, Vec(0.1, -0.1, 0.05+e.ZOffset), pos)
	assert.Equal(t, Vec(0.1, -0.1, 0.2), rot)
}

// TestEnvelopeClampBounded checks the envelope invariant for arbitrary
// outputs: every clamped component lies within its half-interval.
func TestEnvelopeClampBounded(t *testing.T) {
	e := DefaultEnvelope
	vals := rapid.Float64Range(-1e6, 1e6)
	rapid.Check(t, func(t *rapid.T) {
		pos := Vec(vals.Draw(t, "px"), vals.Draw(t, "py"), vals.Draw(t, "pz"))
		rot := Vec(vals.Draw(t, "rx"), vals.Draw(t, "ry"), vals.Draw(t, "rz"))
		e.Clamp(&pos, &rot)
		for i := 0; i < 3; i++ {
			if pos[i] < e.PosLow[i] || pos[i] > e.PosHigh[i] {
				t.Fatalf("pos[%d] = %g outside [%g, %g]",
					i, pos[i], e.PosLow[i], e.PosHigh[i])
			}
			if rot[i] < e.RotLow[i] || rot[i] > e.RotHigh[i] {
				t.Fatalf("rot[%d] = %g outside [%g, %g]",
					i, rot[i], e.RotLow[i], e.RotHigh[i])
			}
		}
	})
}

func TestEnvelopeNeutral(t *testing.T) {
	pos, rot := DefaultEnvelope.Neutral()
	assert.Equal(t, Vec(0, 0, DefaultEnvelope.ZOffset), pos)
	assert.Equal(t, Vector3{}, rot)
}
