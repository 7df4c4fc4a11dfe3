// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"encoding/binary"
	"fmt"
	"math"
)

// This file defines the Ethernet interface of a MOOG 6DOF2000E motion base.
// Both packet formats are big-endian throughout.

// MBSampleRate is the motion base command rate in Hz.
const MBSampleRate = 60

// Motion Command Words.
const (
	MCWDisable       uint32 = 220
	MCWPark          uint32 = 210
	MCWLowLimEnable  uint32 = 200
	MCWLowLimDisable uint32 = 190
	MCWEngage        uint32 = 180
	MCWStart         uint32 = 175
	MCWLengthMode    uint32 = 172
	MCWDOFMode       uint32 = 170
	MCWReset         uint32 = 160
	MCWInhibit       uint32 = 150
	MCWMDAMode       uint32 = 140
	MCWNewPosition   uint32 = 130
)

// Latched fault bits. All faults are asserted on 1.
const (
	FaultEstop       uint32 = 0x8000
	FaultSnubber     uint32 = 0x4000
	FaultActRunaway  uint32 = 0x2000
	FaultBattery     uint32 = 0x1000
	FaultLowIdleRate uint32 = 0x0800
	FaultMotorTherm  uint32 = 0x0400
	FaultCmdRange    uint32 = 0x0200
	FaultInvalidFrm  uint32 = 0x0100
	FaultWatchdog    uint32 = 0x0080
	FaultLimitSwitch uint32 = 0x0040
	FaultDriveBus    uint32 = 0x0020
	FaultAmplifier   uint32 = 0x0010
	FaultComm        uint32 = 0x0008
	FaultHoming      uint32 = 0x0004
	FaultEnvelope    uint32 = 0x0002
	FaultTorqueMon   uint32 = 0x0001
)

// Discrete I/O information bits. All conditions are asserted on 1.
const (
	InfoEstopSense      uint32 = 0x80
	InfoAmpEnableCmd    uint32 = 0x40
	InfoDriveBusSense   uint32 = 0x20
	InfoLimShuntCmd     uint32 = 0x10
	InfoLimSwitchSense  uint32 = 0x08
	InfoAmpFaultSense   uint32 = 0x04
	InfoThermFaultSense uint32 = 0x02
	InfoBaseAtHome      uint32 = 0x01
)

// Machine state information masks.
const (
	MaskStateFeedbackType uint32 = 0x80
	MaskStateCmdMode      uint32 = 0x60
	MaskStateEncoded      uint32 = 0x0F
)

// Machine state command modes.
const (
	StateCmdModeLength  uint32 = 0x00
	StateCmdModeDOF     uint32 = 0x20
	StateCmdModeMDA     uint32 = 0x40
	StateCmdModeInvalid uint32 = 0x60
)

// MBState is the decoded 4-bit machine state from the reply's machine state
// word.
type MBState uint32

// Encoded machine states.
const (
	MBStatePowerUp   MBState = 0x0
	MBStateIdle      MBState = 0x1
	MBStateStandby   MBState = 0x2
	MBStateEngaged   MBState = 0x3
	MBStateParking   MBState = 0x7
	MBStateFault1    MBState = 0x8
	MBStateFault2    MBState = 0x9
	MBStateFault3    MBState = 0xA
	MBStateDisabled  MBState = 0xB
	MBStateInhibited MBState = 0xC
)

func (s MBState) String() string {
	switch s {
	case MBStatePowerUp:
		return "POWER UP"
	case MBStateIdle:
		return "IDLE"
	case MBStateStandby:
		return "STANDBY"
	case MBStateEngaged:
		return "ENGAGED"
	case MBStateParking:
		return "PARKING"
	case MBStateFault1:
		return "FAULT1"
	case MBStateFault2:
		return "FAULT2"
	case MBStateFault3:
		return "FAULT3"
	case MBStateDisabled:
		return "DISABLED"
	case MBStateInhibited:
		return "INHIBITED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%X)", uint32(s))
	}
}

// DOFPacketSize is the wire size of a DOF command packet.
const DOFPacketSize = 32

// DOFReplySize is the wire size of a DOF reply packet.
const DOFReplySize = 40

// DOFPacket is one DOF-mode command to the motion base. Positions are in
// meters and rotations in radians; on the wire each is a big-endian
// single-precision float.
type DOFPacket struct {
	MCW   uint32
	Roll  float64
	Pitch float64
	Heave float64
	Surge float64
	Yaw   float64
	Lat   float64
}

// Marshal encodes the packet into its 32-byte wire form.
func (p DOFPacket) Marshal() []byte {
	b := make([]byte, DOFPacketSize)
	binary.BigEndian.PutUint32(b[0:], p.MCW)
	putF32(b[4:], p.Roll)
	putF32(b[8:], p.Pitch)
	putF32(b[12:], p.Heave)
	putF32(b[16:], p.Surge)
	putF32(b[20:], p.Yaw)
	putF32(b[24:], p.Lat)
	// trailing word is reserved and left zero
	return b
}

// DOFReply is the motion base's reply to a DOF command.
type DOFReply struct {
	LatchedFaults uint32
	DiscreteIO    uint32
	// MachineStateRaw is the full machine state word, including the
	// feedback type and command mode bits.
	MachineStateRaw uint32
	Roll            float64
	Pitch           float64
	Heave           float64
	Surge           float64
	Yaw             float64
	Lat             float64
}

// ParseDOFReply decodes a 40-byte reply packet.
func ParseDOFReply(b []byte) (r DOFReply, err error) {
	if len(b) != DOFReplySize {
		err = fmt.Errorf("DOF reply has %d bytes, want %d", len(b), DOFReplySize)
		return
	}
	r.LatchedFaults = binary.BigEndian.Uint32(b[0:])
	r.DiscreteIO = binary.BigEndian.Uint32(b[4:])
	r.MachineStateRaw = binary.BigEndian.Uint32(b[8:])
	r.Roll = f32(b[12:])
	r.Pitch = f32(b[16:])
	r.Heave = f32(b[20:])
	r.Surge = f32(b[24:])
	r.Yaw = f32(b[28:])
	r.Lat = f32(b[32:])
	// trailing reserved word ignored
	return
}

// State returns the decoded 4-bit machine state.
func (r DOFReply) State() MBState {
	return MBState(r.MachineStateRaw & MaskStateEncoded)
}

func putF32(b []byte, v float64) {
	binary.BigEndian.PutUint32(b, math.Float32bits(float32(v)))
}

func f32(b []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}

// Envelope is the excursion envelope of the platform: six independent,
// not necessarily symmetric half-intervals plus the legacy Z offset the
// Rev E11 firmware requires (zero on newer firmware).
type Envelope struct {
	PosLow  Vector3
	PosHigh Vector3
	RotLow  Vector3
	RotHigh Vector3
	ZOffset float64
}

// DefaultEnvelope is the envelope of the reference platform.
var DefaultEnvelope = Envelope{
	Vector3{-0.381, -0.381, -0.462}, // PosLow
	Vector3{0.381, 0.381, 0},        // PosHigh
	Vector3{-0.367, -0.367, -0.401}, // RotLow
	Vector3{0.367, 0.367, 0.401},    // RotHigh
	-0.231,                          // ZOffset
}

// Neutral returns the platform home pose.
func (e Envelope) Neutral() (pos, rot Vector3) {
	pos = Vector3{0, 0, e.ZOffset}
	return
}

// Clamp offsets the Z position and clamps positions and rotations to the
// envelope, in place.
func (e Envelope) Clamp(pos, rot *Vector3) {
	pos[2] += e.ZOffset
	for i := 0; i < 3; i++ {
		pos[i] = clamp(pos[i], e.PosLow[i], e.PosHigh[i])
		rot[i] = clamp(rot[i], e.RotLow[i], e.RotHigh[i])
	}
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
