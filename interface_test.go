// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeConn is an in-memory mbConn that records sent packets and serves
// queued replies.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	reply  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reply:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := make([]byte, len(b))
	copy(c, b)
	f.sent = append(f.sent, c)
	return len(b), nil
}

func (f *fakeConn) Read(b []byte) (int, error) {
	select {
	case r := <-f.reply:
		return copy(b, r), nil
	case <-f.closed:
		return 0, net.ErrClosed
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// packets returns a copy of the packets sent so far.
func (f *fakeConn) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// lastMCW returns the command word of the most recent packet.
func (f *fakeConn) lastMCW() uint32 {
	p := f.packets()
	return binary.BigEndian.Uint32(p[len(p)-1])
}

// drain discards recorded packets.
func (f *fakeConn) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// fakeSim is an in-memory telemetry source.
type fakeSim struct {
	mu   sync.Mutex
	sf   Vector3
	angv Vector3
	att  Vector3
}

func (f *fakeSim) Latest() (sf, angv, att Vector3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sf, f.angv, f.att
}

func (f *fakeSim) set(sf, angv, att Vector3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sf, f.angv, f.att = sf, angv, att
}

// wideEnvelope leaves outputs unclamped and unoffset so tests can assert
// exact values.
func wideEnvelope() Envelope {
	return Envelope{
		Vector3{-1e9, -1e9, -1e9}, // PosLow
		Vector3{1e9, 1e9, 1e9},    // PosHigh
		Vector3{-1e9, -1e9, -1e9}, // RotLow
		Vector3{1e9, 1e9, 1e9},    // RotHigh
		0,                         // ZOffset
	}
}

func newTestIface(opts IfaceOptions) (*MBInterface, *fakeConn, *fakeSim) {
	conn := newFakeConn()
	sim := &fakeSim{}
	if opts.Envelope == (Envelope{}) {
		opts.Envelope = wideEnvelope()
	}
	if opts.Log == nil {
		opts.Log = quietLog()
	}
	cfg := testConfig()
	// no tilt unless a test asks for it, so attitude stays put
	cfg.KTCX = 0
	cfg.KTCY = 0
	m := newInterface(cfg, conn, sim, opts)
	return m, conn, sim
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// commandTick runs send loop ticks until exactly one FSM action has
// executed.
func commandTick(m *MBInterface) {
	m.tick()
	m.tick()
}

// feedState publishes a decoded machine state as if a reply had arrived.
func feedState(m *MBInterface, s MBState) {
	m.mbStateRaw.Store(StateCmdModeDOF | uint32(s))
	m.mbState.Store(uint32(s))
}

// engageTo walks the session from ESTABLISH_COMMS to the requested state.
func engageTo(t *testing.T, m *MBInterface, target SessionState) {
	t.Helper()
	commandTick(m)
	require.Equal(t, EstablishComms, m.Status())

	feedState(m, MBStateIdle)
	commandTick(m)
	require.Equal(t, WaitForEngage, m.Status())
	if target == WaitForEngage {
		return
	}

	m.SetEngage()
	commandTick(m)
	require.Equal(t, Engaging, m.Status())
	if target == Engaging {
		return
	}

	feedState(m, MBStateEngaged)
	commandTick(m)
	require.Equal(t, WaitForReady, m.Status())
	if target == WaitForReady {
		return
	}

	m.SetReady()
	commandTick(m)
	require.Equal(t, RateLimited, m.Status())
	if target == RateLimited {
		return
	}

	for i := 0; i < 2000 && m.Status() != Engaged; i++ {
		commandTick(m)
	}
	require.Equal(t, Engaged, m.Status())
}

// TestEngagementHandshake walks the full handshake: no replies hold
// ESTABLISH_COMMS, the first reply releases it, and the user engage leads
// through ENGAGING to WAIT_FOR_READY once the base reports ENGAGED.
func TestEngagementHandshake(t *testing.T) {
	m, conn, _ := newTestIface(IfaceOptions{})

	for i := 0; i < 5; i++ {
		commandTick(m)
		assert.Equal(t, EstablishComms, m.Status())
		assert.Equal(t, MCWDOFMode, conn.lastMCW())
	}

	feedState(m, MBStateIdle)
	commandTick(m)
	assert.Equal(t, WaitForEngage, m.Status())

	commandTick(m)
	assert.Equal(t, MCWNewPosition, conn.lastMCW())

	m.SetEngage()
	commandTick(m)
	assert.Equal(t, Engaging, m.Status())

	commandTick(m)
	assert.Equal(t, MCWStart, conn.lastMCW())

	feedState(m, MBStateEngaged)
	commandTick(m)
	assert.Equal(t, WaitForReady, m.Status())
}

// TestEngageGating checks that the engage intent is only accepted while
// waiting for engage.
func TestEngageGating(t *testing.T) {
	m, _, _ := newTestIface(IfaceOptions{})

	m.SetEngage()
	commandTick(m)
	assert.Equal(t, EstablishComms, m.Status())

	feedState(m, MBStateIdle)
	commandTick(m)
	require.Equal(t, WaitForEngage, m.Status())

	// the early press was not latched
	commandTick(m)
	assert.Equal(t, WaitForEngage, m.Status())
}

// TestParkIntentNotLatchedEarly checks that a park pressed before any
// state that can park is cleared, not stored.
func TestParkIntentNotLatchedEarly(t *testing.T) {
	m, _, _ := newTestIface(IfaceOptions{})

	m.SetPark()
	commandTick(m)

	feedState(m, MBStateIdle)
	commandTick(m)
	require.Equal(t, WaitForEngage, m.Status())

	m.SetEngage()
	commandTick(m)
	assert.Equal(t, Engaging, m.Status())
}

// TestRateLimitedRamp checks the ramp-in: with the MDA pinned at
// pos = (0.1, 0, 0), the commanded surge climbs by one delta per command
// until the state times out into ENGAGED.
func TestRateLimitedRamp(t *testing.T) {
	m, conn, sim := newTestIface(IfaceOptions{
		RateLimitTimeoutTicks: 6,
	})
	sim.set(Vec(0.1, 0, 0), Vector3{}, Vector3{})

	engageTo(t, m, WaitForReady)

	// let the pipeline settle on the constant output
	commandTick(m)

	m.SetReady()
	commandTick(m)
	require.Equal(t, RateLimited, m.Status())
	conn.drain()

	const delta = 3.4e-4
	for i := 0; i < 3; i++ {
		commandTick(m)
		p := conn.packets()
		surge := math.Float32frombits(binary.BigEndian.Uint32(p[len(p)-1][16:]))
		assert.InDelta(t, float64(i+1)*delta, float64(surge), 1e-9,
			"ramp step %d", i)
	}

	for i := 0; i < 10 && m.Status() != Engaged; i++ {
		commandTick(m)
	}
	assert.Equal(t, Engaged, m.Status())
}

// TestEnvelopeClampOnWire checks that the serialized packet carries the
// envelope-clamped values when the MDA output exceeds the platform
// limits.
func TestEnvelopeClampOnWire(t *testing.T) {
	m, conn, sim := newTestIface(IfaceOptions{
		Envelope:              DefaultEnvelope,
		RateLimitTimeoutTicks: 2,
	})
	sim.set(Vec(1000, -1000, 1000), Vector3{}, Vector3{})

	engageTo(t, m, Engaged)
	conn.drain()

	commandTick(m)
	p := conn.packets()
	require.NotEmpty(t, p)
	last := p[len(p)-1]
	require.Equal(t, MCWNewPosition, binary.BigEndian.Uint32(last))

	f := func(off int) float64 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(last[off:])))
	}
	e := DefaultEnvelope
	assert.InDelta(t, e.PosHigh[0], f(16), 1e-6, "surge")
	assert.InDelta(t, e.PosLow[1], f(24), 1e-6, "lateral")
	assert.InDelta(t, e.PosHigh[2], f(12), 1e-6, "heave")
}

// TestParkOnFault checks that a FAULT1 reply drives the session to
// MB_FAULT and that the next command is a PARK.
func TestParkOnFault(t *testing.T) {
	m, conn, _ := newTestIface(IfaceOptions{RateLimitTimeoutTicks: 2})
	engageTo(t, m, Engaged)

	feedState(m, MBStateFault1)
	commandTick(m)
	assert.Equal(t, MBFault, m.Status())
	assert.Equal(t, ReasonMBFault1, m.Reason())
	assert.Equal(t, MCWPark, conn.lastMCW())

	// terminal: an IDLE reply does not release it
	feedState(m, MBStateIdle)
	commandTick(m)
	assert.Equal(t, MBFault, m.Status())
}

// TestFault2Policy checks both FAULT2 mappings.
func TestFault2Policy(t *testing.T) {
	m, _, _ := newTestIface(IfaceOptions{RateLimitTimeoutTicks: 2})
	engageTo(t, m, Engaged)
	feedState(m, MBStateFault2)
	commandTick(m)
	assert.Equal(t, MBFault, m.Status())
	assert.Equal(t, ReasonMBFault2, m.Reason())

	m, conn, _ := newTestIface(IfaceOptions{
		RateLimitTimeoutTicks: 2,
		Fault2Recoverable:     true,
	})
	engageTo(t, m, Engaged)
	feedState(m, MBStateFault2)
	commandTick(m)
	assert.Equal(t, MBRecoverableFault, m.Status())
	assert.Equal(t, MCWPark, conn.lastMCW())

	// a reset intent sends one extra out-of-cycle RESET
	m.SetReset()
	conn.drain()
	commandTick(m)
	p := conn.packets()
	require.Len(t, p, 2)
	assert.Equal(t, MCWPark, binary.BigEndian.Uint32(p[0]))
	assert.Equal(t, MCWReset, binary.BigEndian.Uint32(p[1]))

	// and only once
	conn.drain()
	commandTick(m)
	p = conn.packets()
	require.Len(t, p, 1)
	assert.Equal(t, MCWPark, binary.BigEndian.Uint32(p[0]))

	// the state releases when the base reports IDLE
	feedState(m, MBStateIdle)
	commandTick(m)
	assert.Equal(t, WaitForEngage, m.Status())
}

// TestEngageTimeout checks the tick-counted ENGAGING budget.
func TestEngageTimeout(t *testing.T) {
	m, conn, _ := newTestIface(IfaceOptions{EngageTimeoutTicks: 4})
	engageTo(t, m, Engaging)

	for i := 0; i < 10 && m.Status() == Engaging; i++ {
		commandTick(m)
	}
	assert.Equal(t, MBFault, m.Status())
	assert.Equal(t, ReasonEngageFailed, m.Reason())

	commandTick(m)
	assert.Equal(t, MCWPark, conn.lastMCW())
}

// TestParkAndReengage checks the park intent from ENGAGED and the return
// path through PARKING to WAIT_FOR_ENGAGE.
func TestParkAndReengage(t *testing.T) {
	m, conn, _ := newTestIface(IfaceOptions{RateLimitTimeoutTicks: 2})
	engageTo(t, m, Engaged)

	m.SetPark()
	commandTick(m)
	assert.Equal(t, Parking, m.Status())
	assert.Equal(t, MCWPark, conn.lastMCW())

	// still parking while the base winds down
	feedState(m, MBStateParking)
	commandTick(m)
	assert.Equal(t, Parking, m.Status())

	feedState(m, MBStateIdle)
	commandTick(m)
	assert.Equal(t, WaitForEngage, m.Status())
}

// TestMDALogRows checks that every send tick appends one CSV row of
// inputs and outputs.
func TestMDALogRows(t *testing.T) {
	var log syncBuffer
	m, _, sim := newTestIface(IfaceOptions{MDALog: &log})
	sim.set(Vec(1, 2, 3), Vector3{}, Vec(7, 8, 9))

	commandTick(m)
	commandTick(m)

	lines := log.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "1,2,3,0,0,0,7,8,9,1,2,3,0,0,0", lines[0])
}

// TestRecvLoop feeds wire replies through the receive worker and checks
// the published state words and the latched fault flag.
func TestRecvLoop(t *testing.T) {
	m, conn, _ := newTestIface(IfaceOptions{})

	m.wg.Add(1)
	go m.recvLoop()

	b := make([]byte, DOFReplySize)
	binary.BigEndian.PutUint32(b[8:], StateCmdModeDOF|uint32(MBStateEngaged))
	conn.reply <- b

	require.Eventually(t, func() bool {
		return m.MBState() == MBStateEngaged
	}, time.Second, time.Millisecond)
	assert.False(t, m.FaultLatched())

	b2 := make([]byte, DOFReplySize)
	binary.BigEndian.PutUint32(b2[0:], FaultWatchdog)
	binary.BigEndian.PutUint32(b2[8:], uint32(MBStateFault1))
	conn.reply <- b2

	require.Eventually(t, func() bool {
		return m.MBState() == MBStateFault1
	}, time.Second, time.Millisecond)
	assert.True(t, m.FaultLatched())

	conn.Close()
	m.wg.Wait()
}

// TestSendLoopPacing runs the paced loop against a mock clock and checks
// that ticks advance with time.
func TestSendLoopPacing(t *testing.T) {
	mock := clock.NewMock()
	conn := newFakeConn()
	sim := &fakeSim{}
	cfg := testConfig()
	m := newInterface(cfg, conn, sim, IfaceOptions{
		Clock:    mock,
		Envelope: wideEnvelope(),
		Log:      quietLog(),
	})
	m.start()

	for i := 0; i < 20; i++ {
		time.Sleep(time.Millisecond)
		mock.Add(25 * time.Millisecond)
	}
	assert.Greater(t, m.Ticks(), uint64(10))

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	for {
		select {
		case <-stopped:
			return
		default:
			mock.Add(50 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

// TestInterfaceOverUDP runs the production constructor against a fake
// motion base on the loopback and checks the handshake and a leak-free
// shutdown.
func TestInterfaceOverUDP(t *testing.T) {
	defer goleak.VerifyNone(t)

	mb, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	mbDone := make(chan struct{})
	go func() {
		defer close(mbDone)
		buf := make([]byte, 64)
		reply := make([]byte, DOFReplySize)
		binary.BigEndian.PutUint32(reply[8:],
			StateCmdModeDOF|uint32(MBStateIdle))
		for {
			n, addr, err := mb.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n == DOFPacketSize {
				mb.WriteToUDP(reply, addr)
			}
		}
	}()

	m, err := NewMBInterface(testConfig(), IfaceOptions{
		MBAddr:   mb.LocalAddr().String(),
		Envelope: wideEnvelope(),
		Log:      quietLog(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Status() == WaitForEngage
	}, 3*time.Second, 5*time.Millisecond)
	assert.Greater(t, m.Ticks(), uint64(1))

	require.NoError(t, m.Stop())
	mb.Close()
	<-mbDone
}

// syncBuffer is a mutex-guarded line buffer for log assertions.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lines []string
	start := 0
	for i, c := range b.buf {
		if c == '\n' {
			lines = append(lines, string(b.buf[start:i]))
			start = i + 1
		}
	}
	return lines
}
