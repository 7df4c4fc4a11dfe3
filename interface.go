// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// SessionState is the state of the motion base session.
type SessionState int32

const (
	EstablishComms SessionState = iota
	WaitForEngage
	Engaging
	WaitForReady
	RateLimited
	Engaged
	Parking
	MBFault
	MBRecoverableFault
)

func (s SessionState) String() string {
	switch s {
	case EstablishComms:
		return "ESTABLISH_COMMS"
	case WaitForEngage:
		return "WAIT_FOR_ENGAGE"
	case Engaging:
		return "ENGAGING"
	case WaitForReady:
		return "WAIT_FOR_READY"
	case RateLimited:
		return "RATE_LIMITED"
	case Engaged:
		return "ENGAGED"
	case Parking:
		return "PARKING"
	case MBFault:
		return "MB_FAULT"
	case MBRecoverableFault:
		return "MB_RECOVERABLE_FAULT"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// FaultReason qualifies a fault state for the operator.
type FaultReason int32

const (
	ReasonNone FaultReason = iota
	ReasonMBFault1
	ReasonMBFault2
	ReasonMBFault3
	ReasonResponseTimeout
	ReasonEngageFailed
	ReasonEstop
)

func (r FaultReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMBFault1:
		return "MB FAULT1"
	case ReasonMBFault2:
		return "MB FAULT2"
	case ReasonMBFault3:
		return "MB FAULT3"
	case ReasonResponseTimeout:
		return "MB response timed out"
	case ReasonEngageFailed:
		return "MB engage failed"
	case ReasonEstop:
		return "MB emergency stop"
	default:
		return fmt.Sprintf("FaultReason(%d)", int32(r))
	}
}

// sendTickRate is the send loop rate. Commands go out every other tick,
// which yields the motion base rate.
const sendTickRate = 2 * MBSampleRate

// ticksPerTock is the number of send loop ticks per command sent.
const ticksPerTock = 2

// Default state timeouts, counted in send loop ticks rather than wall time
// to stay robust to scheduler jitter.
const (
	DefaultEngageTimeoutTicks    = 1200
	DefaultRateLimitTimeoutTicks = 1200
)

// Ramp-in rate limits, per command sample.
const (
	// 0.34 mm/sample ~= 20 mm/s
	posRampDelta = 3.4e-4
	// 0.016 degree/sample ~= 1 degree/s
	rotRampDelta = 0.016 * math.Pi / 180
)

// rawStateInit is the machine state word before any reply has arrived.
const rawStateInit = 0xFFFFFFFF

// telemetrySource produces the latest simulator telemetry triple.
type telemetrySource interface {
	Latest() (sf, angv, att Vector3)
}

// mbConn is the command/reply link to the motion base. The base replies to
// the source port of the commands, so one socket serves both directions.
type mbConn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// udpMBConn is the production mbConn on an unconnected UDP socket.
type udpMBConn struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

func (u *udpMBConn) Write(b []byte) (int, error) {
	return u.conn.WriteToUDP(b, u.remote)
}

func (u *udpMBConn) Read(b []byte) (int, error) {
	n, _, err := u.conn.ReadFromUDP(b)
	return n, err
}

func (u *udpMBConn) Close() error {
	return u.conn.Close()
}

// IfaceOptions configures an MBInterface.
type IfaceOptions struct {
	// MBAddr is the motion base address, host:port.
	MBAddr string
	// LocalPort is the local port commands are sent from and replies
	// received on.
	LocalPort uint16
	// XPlanePort is the local port simulator telemetry arrives on.
	XPlanePort uint16
	// SubtractGravity disables the Z gravity relief in the positional
	// channel when false.
	SubtractGravity bool
	// Fault2Recoverable maps MB FAULT2 to the recoverable fault state
	// instead of the terminal one.
	Fault2Recoverable bool
	// Envelope is the platform excursion envelope.
	Envelope Envelope
	// EngageTimeoutTicks and RateLimitTimeoutTicks bound the ENGAGING and
	// RATE_LIMITED states; zero selects the defaults.
	EngageTimeoutTicks    uint64
	RateLimitTimeoutTicks uint64
	// Clock paces the send loop; nil selects the real clock.
	Clock clock.Clock
	// Log receives interface events; nil selects the standard logger.
	Log *logrus.Entry
	// Metrics receives instrumentation; nil registers against a private
	// registry.
	Metrics *Metrics
	// MDALog receives one CSV row per send tick; nil discards them.
	MDALog io.Writer
}

// MBInterface drives the motion base: it owns the MDA, paces the send
// loop, negotiates the session state machine, and parses the base's
// replies. Three long-lived goroutines run under it: the simulator ingest
// worker, the send loop and the reply receiver.
type MBInterface struct {
	conn mbConn
	sim  telemetrySource
	mda  *MDA
	env  Envelope
	clk  clock.Clock
	log  *logrus.Entry
	met  *Metrics

	mdaLog io.Writer

	engageTimeout    uint64
	rateLimitTimeout uint64

	initPos, initRot Vector3
	posRamp, rotRamp *VectorRateLimit

	fault2Recoverable bool

	// outMtx guards the displayed/logged snapshot below. Single writer
	// (send loop), multiple readers (UI, log writer).
	outMtx             sync.Mutex
	currAcc, currAngv  Vector3
	currAtt            Vector3
	currPos, currRot   Vector3

	status atomic.Int32
	reason atomic.Int32

	sendTicks  atomic.Uint64
	stateStart uint64 // send loop only

	// written by the reply receiver, read by the send loop
	mbStateRaw   atomic.Uint32
	mbState      atomic.Uint32
	faultLatched atomic.Bool

	// user intents, written by the UI thread
	userEngage   atomic.Bool
	userReady    atomic.Bool
	userPark     atomic.Bool
	userOverride atomic.Bool
	userReset    atomic.Bool

	continueOp atomic.Bool
	stopSim    func() error
	wg         sync.WaitGroup
}

// NewMBInterface opens both UDP links and starts the workers. The session
// begins in ESTABLISH_COMMS.
func NewMBInterface(cfg *Config, opts IfaceOptions) (*MBInterface, error) {
	remote, err := net.ResolveUDPAddr("udp", opts.MBAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve MB address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(opts.LocalPort)})
	if err != nil {
		return nil, fmt.Errorf("bind MB socket: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sim, err := NewXPlaneSocket(opts.XPlanePort, log.WithField("worker", "sim"))
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := newInterface(cfg, &udpMBConn{conn, remote}, sim, opts)
	m.stopSim = sim.Stop
	m.start()
	return m, nil
}

// newInterface builds an interface around the given link and telemetry
// source without starting any workers.
func newInterface(cfg *Config, conn mbConn, sim telemetrySource,
	opts IfaceOptions) *MBInterface {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.MDALog == nil {
		opts.MDALog = io.Discard
	}
	if opts.EngageTimeoutTicks == 0 {
		opts.EngageTimeoutTicks = DefaultEngageTimeoutTicks
	}
	if opts.RateLimitTimeoutTicks == 0 {
		opts.RateLimitTimeoutTicks = DefaultRateLimitTimeoutTicks
	}
	if opts.Envelope == (Envelope{}) {
		opts.Envelope = DefaultEnvelope
	}
	initPos, initRot := opts.Envelope.Neutral()
	m := &MBInterface{
		conn:              conn,
		sim:               sim,
		mda:               NewMDA(cfg, opts.SubtractGravity),
		env:               opts.Envelope,
		clk:               opts.Clock,
		log:               opts.Log,
		met:               opts.Metrics,
		mdaLog:            opts.MDALog,
		engageTimeout:     opts.EngageTimeoutTicks,
		rateLimitTimeout:  opts.RateLimitTimeoutTicks,
		initPos:           initPos,
		initRot:           initRot,
		posRamp:           NewVectorRateLimit(posRampDelta, initPos),
		rotRamp:           NewVectorRateLimit(rotRampDelta, initRot),
		fault2Recoverable: opts.Fault2Recoverable,
	}
	m.sendTicks.Store(1)
	m.mbStateRaw.Store(rawStateInit)
	m.mbState.Store(rawStateInit)
	m.status.Store(int32(EstablishComms))
	m.continueOp.Store(true)
	return m
}

// start spawns the send loop and the reply receiver.
func (m *MBInterface) start() {
	m.wg.Add(2)
	go m.sendLoop()
	go m.recvLoop()
}

// Stop shuts down the workers and closes the sockets. Any blocked receive
// returns when its socket closes.
func (m *MBInterface) Stop() error {
	m.continueOp.Store(false)
	var simErr error
	if m.stopSim != nil {
		simErr = m.stopSim()
	}
	connErr := m.conn.Close()
	m.wg.Wait()
	return errors.Join(simErr, connErr)
}

// SetEngage latches the engage intent, accepted only while waiting for
// engage.
func (m *MBInterface) SetEngage() {
	if m.Status() == WaitForEngage {
		m.userEngage.Store(true)
	}
}

// SetReady latches the ready intent, accepted only while waiting for
// ready.
func (m *MBInterface) SetReady() {
	if m.Status() == WaitForReady {
		m.userReady.Store(true)
	}
}

// SetPark latches the park intent.
func (m *MBInterface) SetPark() {
	m.userPark.Store(true)
}

// SetReset latches the reset intent, acted on in the recoverable fault
// state.
func (m *MBInterface) SetReset() {
	m.userReset.Store(true)
}

// SetOverride latches the override intent, which manually advances the
// session to the next state. Dangerous; not bound by the standard UI.
func (m *MBInterface) SetOverride() {
	m.userOverride.Store(true)
}

// Status returns the current session state.
func (m *MBInterface) Status() SessionState {
	return SessionState(m.status.Load())
}

// Reason returns the qualifier for the current fault state, if any.
func (m *MBInterface) Reason() FaultReason {
	return FaultReason(m.reason.Load())
}

// MBState returns the last decoded machine state reported by the base.
func (m *MBInterface) MBState() MBState {
	return MBState(m.mbState.Load())
}

// FaultLatched reports whether any reply carried a nonzero latched fault
// word.
func (m *MBInterface) FaultLatched() bool {
	return m.faultLatched.Load()
}

// Ticks returns the send loop tick count.
func (m *MBInterface) Ticks() uint64 {
	return m.sendTicks.Load()
}

// MDAStatus copies the current MDA inputs and outputs for display.
func (m *MBInterface) MDAStatus() (sf, angv, att, pos, rot Vector3) {
	m.outMtx.Lock()
	defer m.outMtx.Unlock()
	return m.currAcc, m.currAngv, m.currAtt, m.currPos, m.currRot
}

// sendLoop is the pace maker. It runs at the send tick rate against
// absolute deadlines on the injected clock so that sleep error does not
// accumulate, and issues one command every other tick.
func (m *MBInterface) sendLoop() {
	defer m.wg.Done()

	period := time.Second / sendTickRate
	next := m.clk.Now()

	m.sendNeutral(MCWDOFMode)

	for m.continueOp.Load() {
		next = next.Add(period)
		m.tick()
		if d := next.Sub(m.clk.Now()); d > 0 {
			m.clk.Sleep(d)
		}
	}
}

// tick runs one send loop iteration: the state machine on command ticks,
// then the MDA on every tick.
func (m *MBInterface) tick() {
	if m.sendTicks.Load()%ticksPerTock == 0 {
		m.fsmStep()
		// clear unused intents after the state action, so input pressed
		// before its state is active is not latched
		m.resetUserCommands()
	}

	m.met.SendTicks.Inc()

	m.outMtx.Lock()
	m.currAcc, m.currAngv, m.currAtt = m.sim.Latest()
	m.mda.Step(m.currAcc, m.currAngv, m.currAtt)
	m.currPos = m.mda.Pos()
	m.currRot = m.mda.Angle()
	pos, rot := m.currPos, m.currRot
	acc, angv, att := m.currAcc, m.currAngv, m.currAtt
	m.outMtx.Unlock()

	if err := WriteMDARow(m.mdaLog, acc, angv, att, pos, rot); err != nil {
		m.log.WithError(err).Warn("MDA log write failed")
	}

	// clamp to the envelope before the next command tick picks this up
	m.env.Clamp(&pos, &rot)
	m.outMtx.Lock()
	m.currPos, m.currRot = pos, rot
	m.outMtx.Unlock()

	m.sendTicks.Add(1)
}

// fsmStep handles faults and the park intent, then runs the per-state
// action.
func (m *MBInterface) fsmStep() {
	status := m.Status()

	if status != EstablishComms && status != WaitForEngage &&
		status != MBFault && status != MBRecoverableFault {
		if m.userPark.Load() {
			m.transition(Parking)
			status = Parking
		}
	}

	switch MBState(m.mbState.Load()) {
	case MBStateFault1:
		m.fault(ReasonMBFault1)
		status = m.Status()
	case MBStateFault2:
		if m.fault2Recoverable {
			if status != MBRecoverableFault {
				m.log.Warn("MB reports FAULT2, treating as recoverable")
				m.transition(MBRecoverableFault)
				m.reason.Store(int32(ReasonMBFault2))
			}
		} else {
			m.fault(ReasonMBFault2)
		}
		status = m.Status()
	case MBStateFault3:
		m.fault(ReasonMBFault3)
		status = m.Status()
	}

	switch status {
	case EstablishComms:
		m.stepEstablishComms()
	case WaitForEngage:
		m.stepWaitForEngage()
	case Engaging:
		m.stepEngaging()
	case WaitForReady:
		m.stepWaitForReady()
	case RateLimited:
		m.stepRateLimited()
	case Engaged:
		m.stepEngaged()
	case Parking:
		m.stepParking()
	case MBFault:
		m.stepMBFault()
	case MBRecoverableFault:
		m.stepMBRecoverableFault()
	}
}

// stepEstablishComms waits for the first reply from the base.
func (m *MBInterface) stepEstablishComms() {
	m.sendNeutral(MCWDOFMode)

	if m.mbStateRaw.Load() != rawStateInit {
		m.transition(WaitForEngage)
	} else if m.userOverride.Load() {
		m.transition(WaitForEngage)
		m.userOverride.Store(false)
	}
}

// stepWaitForEngage holds the neutral pose until the user commands an
// engage.
func (m *MBInterface) stepWaitForEngage() {
	m.sendNeutral(MCWNewPosition)

	if m.userEngage.Load() || m.userOverride.Load() {
		m.transition(Engaging)
		m.stateStart = m.sendTicks.Load()
		m.userOverride.Store(false)
	}
}

// stepEngaging waits for the base to report ENGAGED, within the tick
// budget.
func (m *MBInterface) stepEngaging() {
	m.sendNeutral(MCWStart)

	if MBState(m.mbState.Load()) == MBStateEngaged || m.userOverride.Load() {
		m.transition(WaitForReady)
		m.userOverride.Store(false)
		return
	}
	if m.sendTicks.Load()-m.stateStart > m.engageTimeout {
		m.fault(ReasonEngageFailed)
	}
}

// stepWaitForReady holds the neutral pose until the user releases motion.
func (m *MBInterface) stepWaitForReady() {
	m.sendNeutral(MCWNewPosition)

	if m.userReady.Load() || m.userOverride.Load() {
		m.transition(RateLimited)
		m.stateStart = m.sendTicks.Load()
		// ramp in from the neutral pose, wherever the MDA output is
		m.posRamp.Override(m.initPos)
		m.rotRamp.Override(m.initRot)
		m.userOverride.Store(false)
	}
}

// stepRateLimited ramps the output in, allowing for the non-neutral
// starting poses that happen essentially every time.
func (m *MBInterface) stepRateLimited() {
	pos := m.posRamp.Advance(m.currPos)
	rot := m.rotRamp.Advance(m.currRot)

	m.send(MCWNewPosition, pos, rot)

	if m.sendTicks.Load()-m.stateStart > m.rateLimitTimeout {
		m.transition(Engaged)
	}
}

// stepEngaged sends the clamped MDA output. Parking is handled up the
// stack.
func (m *MBInterface) stepEngaged() {
	m.send(MCWNewPosition, m.currPos, m.currRot)

	if m.userOverride.Load() {
		m.transition(Parking)
		m.userOverride.Store(false)
	}
}

// stepParking waits for the base to come back to IDLE.
func (m *MBInterface) stepParking() {
	m.sendNeutral(MCWPark)

	if MBState(m.mbState.Load()) == MBStateIdle {
		m.transition(WaitForEngage)
	}
}

// stepMBFault keeps commanding a park. Terminal; the process must be
// restarted.
func (m *MBInterface) stepMBFault() {
	m.sendNeutral(MCWPark)
}

// stepMBRecoverableFault keeps commanding a park until the base reports
// IDLE. A pending reset intent sends one out-of-cycle RESET; the base has
// to be parked to act on it.
func (m *MBInterface) stepMBRecoverableFault() {
	m.sendNeutral(MCWPark)

	if MBState(m.mbState.Load()) == MBStateIdle {
		m.transition(WaitForEngage)
	}

	if m.userReset.Load() {
		m.sendNeutral(MCWReset)
		m.userReset.Store(false)
	}
}

// fault enters MB_FAULT with the given reason, once.
func (m *MBInterface) fault(reason FaultReason) {
	if m.Status() != MBFault {
		m.log.WithField("reason", reason.String()).Error("MB fault")
		m.transition(MBFault)
		m.reason.Store(int32(reason))
	}
}

// transition changes the session state and records it.
func (m *MBInterface) transition(next SessionState) {
	prev := SessionState(m.status.Swap(int32(next)))
	if prev != next {
		m.log.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   next.String(),
			"tick": m.sendTicks.Load(),
		}).Info("session state change")
		m.met.IfaceState.Set(float64(next))
	}
}

// resetUserCommands clears pending intents so that input pressed outside
// its state is not interpreted later.
func (m *MBInterface) resetUserCommands() {
	m.userEngage.Store(false)
	m.userReady.Store(false)
	m.userPark.Store(false)
	m.userOverride.Store(false)
	m.userReset.Store(false)
}

// send issues one DOF command with the given payload.
func (m *MBInterface) send(mcw uint32, pos, rot Vector3) {
	p := DOFPacket{
		MCW:   mcw,
		Roll:  rot[0],
		Pitch: rot[1],
		Heave: pos[2],
		Surge: pos[0],
		Yaw:   rot[2],
		Lat:   pos[1],
	}
	b := p.Marshal()
	n, err := m.conn.Write(b)
	if err != nil || n != len(b) {
		// a short send does not kill the loop
		m.met.ShortSends.Inc()
		m.log.WithError(err).WithField("sent", n).Warn("short MB command send")
		return
	}
	m.met.CommandsSent.Inc()
}

// sendNeutral issues one DOF command with the platform home pose.
func (m *MBInterface) sendNeutral(mcw uint32) {
	m.send(mcw, m.initPos, m.initRot)
}

// recvLoop receives the base's replies and publishes the state words for
// the send loop.
func (m *MBInterface) recvLoop() {
	defer m.wg.Done()
	buf := make([]byte, 64)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			if m.continueOp.Load() && !errors.Is(err, net.ErrClosed) {
				m.log.WithError(err).Error("MB receive failed")
			}
			return
		}
		r, err := ParseDOFReply(buf[:n])
		if err != nil {
			m.log.WithError(err).Debug("dropping malformed MB reply")
			continue
		}
		m.met.RepliesRecv.Inc()
		if r.LatchedFaults != 0 {
			m.faultLatched.Store(true)
			m.met.LatchedFaults.Inc()
		}
		m.mbStateRaw.Store(r.MachineStateRaw)
		m.mbState.Store(uint32(r.State()))
		m.met.MBState.Set(float64(r.State()))
	}
}
