// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

// Gravity is the acceleration due to gravity in m/s^2, as used by both the
// simulator ingest and the gravity subtraction in the positional channel.
const Gravity = 9.81

// AngularHPChannel is the angular high-pass channel. It rotates scaled body
// rates to the inertial frame using its own prior output, saturates,
// filters and reassembles them into the motion base orientation. The
// configured filters embed the integrator, so no separate integration
// stage exists.
type AngularHPChannel struct {
	rollFilt, pitchFilt, yawFilt *BiquadChain
	rollSat, pitchSat, yawSat    *Saturation

	lastOutput Vector3
}

// NewAngularHPChannel returns a new AngularHPChannel built from the config.
func NewAngularHPChannel(cfg *Config) *AngularHPChannel {
	return &AngularHPChannel{
		NewBiquadChain(cfg.PHP.Disc),  // rollFilt
		NewBiquadChain(cfg.QHP.Disc),  // pitchFilt
		NewBiquadChain(cfg.RHP.Disc),  // yawFilt
		NewSaturation(cfg.LimP, 0),    // rollSat
		NewSaturation(cfg.LimQ, 0),    // pitchSat
		NewSaturation(cfg.LimR, 0),    // yawSat
		Vector3{},                     // lastOutput
	}
}

// Advance runs one sample through the channel and returns the new inertial
// orientation, exclusive of tilt coordination.
func (a *AngularHPChannel) Advance(input Vector3) Vector3 {
	// rotate to the inertial frame using the prior output
	in := BodyToInertial(input, a.lastOutput)

	p := a.rollFilt.Advance(a.rollSat.Advance(in[0]))
	q := a.pitchFilt.Advance(a.pitchSat.Advance(in[1]))
	r := a.yawFilt.Advance(a.yawSat.Advance(in[2]))

	a.lastOutput = Vector3{p, q, r}
	return a.lastOutput
}

// TiltCoordination is the tilt coordination channel. Sustained longitudinal
// and lateral specific force is low-pass filtered into a pitch and roll of
// the platform, so that gravity substitutes for the missing cue. Heave
// produces no tilt.
type TiltCoordination struct {
	xFilt, yFilt       *BiquadChain
	xSat, ySat         *Saturation
	xRatelim, yRatelim *RateLimit
	xGain, yGain       float64
}

// NewTiltCoordination returns a new TiltCoordination built from the config.
// The configured rate limits are in rad/s; the per-sample delta follows
// from the sample rate.
func NewTiltCoordination(cfg *Config) *TiltCoordination {
	rate := float64(cfg.SampleRate)
	return &TiltCoordination{
		NewBiquadChain(cfg.SFLPX.Disc),           // xFilt
		NewBiquadChain(cfg.SFLPY.Disc),           // yFilt
		NewSaturation(cfg.LimTCX, 0),             // xSat
		NewSaturation(cfg.LimTCY, 0),             // ySat
		NewRateLimit(cfg.RatelimTCX/rate, 0),     // xRatelim
		NewRateLimit(cfg.RatelimTCY/rate, 0),     // yRatelim
		cfg.KTCX,                                 // xGain
		cfg.KTCY,                                 // yGain
	}
}

// Advance runs one sample through the channel and returns the final
// attitude command: mbAngles plus the tilt contribution. The x
// acceleration contributes to pitch and the y acceleration to roll, so
// the tilt vector is assembled as (y, x, 0).
func (t *TiltCoordination) Advance(input, mbAngles Vector3) Vector3 {
	in := BodyToInertial(input, mbAngles)

	x := t.xSat.Advance(in[0]) * t.xGain
	y := t.ySat.Advance(in[1]) * t.yGain

	x = t.xRatelim.Advance(t.xFilt.Advance(x))
	y = t.yRatelim.Advance(t.yFilt.Advance(y))

	return Vector3{y, x, 0}.Add(mbAngles)
}

// PositionalHPChannel is the positional high-pass channel. Scaled specific
// force is rotated to the inertial frame using the full attitude command,
// optionally relieved of gravity in Z, saturated and passed through the
// cascaded filters, whose sections embed the double integration to
// position.
type PositionalHPChannel struct {
	xFilt, yFilt, zFilt *BiquadChain
	xSat, ySat, zSat    *Saturation

	// zGravSub corresponds to g*K_SF_z and brings the Z input down to the
	// [-limit, limit] range. Zero when gravity subtraction is disabled.
	zGravSub float64
}

// NewPositionalHPChannel returns a new PositionalHPChannel built from the
// config. subtractGravity disables the Z-axis gravity relief when false.
func NewPositionalHPChannel(cfg *Config, subtractGravity bool) *PositionalHPChannel {
	var zGravSub float64
	if subtractGravity {
		zGravSub = Gravity * cfg.KSFZ
	}
	return &PositionalHPChannel{
		NewBiquadChain(cfg.SFHPX.Disc), // xFilt
		NewBiquadChain(cfg.SFHPY.Disc), // yFilt
		NewBiquadChain(cfg.SFHPZ.Disc), // zFilt
		NewSaturation(cfg.LimSFX, 0),   // xSat
		NewSaturation(cfg.LimSFY, 0),   // ySat
		NewSaturation(cfg.LimSFZ, 0),   // zSat
		zGravSub,                       // zGravSub
	}
}

// Advance runs one sample through the channel and returns the position
// command.
func (p *PositionalHPChannel) Advance(input, mbAngles Vector3) Vector3 {
	in := BodyToInertial(input, mbAngles)

	in[2] -= p.zGravSub

	x := p.xFilt.Advance(p.xSat.Advance(in[0]))
	y := p.yFilt.Advance(p.ySat.Advance(in[1]))
	z := p.zFilt.Advance(p.zSat.Advance(in[2]))

	return Vector3{x, y, z}
}

// MDA is the Motion Drive Algorithm: the classical washout filter stack
// mapping simulated vehicle motion to bounded platform commands. Channels
// run in a fixed order each sample: angular high-pass, tilt coordination,
// positional high-pass.
type MDA struct {
	angleBlock *AngularHPChannel
	tiltBlock  *TiltCoordination
	posBlock   *PositionalHPChannel

	posOut, angleOut, angleNoTCOut Vector3
	attIn                          Vector3

	kX, kY, kZ, kP, kQ, kR float64
}

// NewMDA returns a new MDA built from the config.
func NewMDA(cfg *Config, subtractGravity bool) *MDA {
	return &MDA{
		NewAngularHPChannel(cfg),                     // angleBlock
		NewTiltCoordination(cfg),                     // tiltBlock
		NewPositionalHPChannel(cfg, subtractGravity), // posBlock
		Vector3{}, // posOut
		Vector3{}, // angleOut
		Vector3{}, // angleNoTCOut
		Vector3{}, // attIn
		cfg.KSFX,  // kX
		cfg.KSFY,  // kY
		cfg.KSFZ,  // kZ
		cfg.KP,    // kP
		cfg.KQ,    // kQ
		cfg.KR,    // kR
	}
}

// Step runs one iteration of the MDA. The attitude reported by the
// simulator is not consumed by any channel; it is accepted so callers can
// log it alongside the derived attitude. The pipeline is pure arithmetic
// and never fails; non-finite inputs propagate.
func (m *MDA) Step(accelerations, angularVelocities, attitude Vector3) {
	acc := accelerations.ScaleEach(m.kX, m.kY, m.kZ)
	ang := angularVelocities.ScaleEach(m.kP, m.kQ, m.kR)

	// orientation from the angular rates, then tilt coordination on top,
	// then position using the combined attitude
	m.angleNoTCOut = m.angleBlock.Advance(ang)
	m.angleOut = m.tiltBlock.Advance(acc, m.angleNoTCOut)
	m.posOut = m.posBlock.Advance(acc, m.angleOut)

	m.attIn = attitude
}

// Pos returns the position command from the last step.
func (m *MDA) Pos() Vector3 {
	return m.posOut
}

// Angle returns the attitude command from the last step.
func (m *MDA) Angle() Vector3 {
	return m.angleOut
}

// AngleNoTC returns the attitude command from the last step, exclusive of
// tilt coordination.
func (m *MDA) AngleNoTC() Vector3 {
	return m.angleNoTCOut
}

// SimAttitude returns the simulator attitude recorded on the last step.
func (m *MDA) SimAttitude() Vector3 {
	return m.attIn
}
