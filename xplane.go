// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// XP9MsgSize is the size of a legacy X-Plane 9 "DATA" telemetry datagram.
// Datagrams of any other length are dropped.
const XP9MsgSize = 185

// Byte offsets of the fields consumed from the datagram. The specific
// forces arrive ordered Z,X,Y and the body rates q,p,r; both are
// reassembled in the conventional order. Everything is little-endian.
const (
	xp9OffsetSFZ = 25
	xp9OffsetSFX = 29
	xp9OffsetSFY = 33

	xp9OffsetQ = 81
	xp9OffsetP = 85
	xp9OffsetR = 89

	xp9OffsetTheta = 121
	xp9OffsetPhi   = 125
	xp9OffsetPsi   = 129
)

// XPlaneSocket receives simulator telemetry on a local UDP port in a
// background worker and keeps the latest (specific force, body rates,
// attitude) triple for the send loop to snapshot.
type XPlaneSocket struct {
	conn *net.UDPConn
	log  *logrus.Entry

	mtx  sync.Mutex
	sf   Vector3
	angv Vector3
	att  Vector3

	done chan struct{}
}

// NewXPlaneSocket binds the local UDP port and spawns the receive worker.
func NewXPlaneSocket(localPort uint16, log *logrus.Entry) (*XPlaneSocket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(localPort)})
	if err != nil {
		return nil, fmt.Errorf("bind simulator socket: %w", err)
	}
	x := &XPlaneSocket{
		conn: conn,
		log:  log,
		// level attitude, 1 g straight down
		sf:   Vector3{0, 0, Gravity},
		done: make(chan struct{}),
	}
	go x.recvLoop()
	return x, nil
}

// recvLoop runs in the receive worker, replacing the latest telemetry
// triple on each valid datagram.
func (x *XPlaneSocket) recvLoop() {
	defer close(x.done)
	buf := make([]byte, 2048)
	for {
		n, _, err := x.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				x.log.WithError(err).Error("simulator receive failed")
			}
			return
		}
		if n != XP9MsgSize {
			x.log.WithField("len", n).
				Debug("dropping datagram with wrong length for X-Plane 9")
			continue
		}
		sf, angv, att := parseXP9(buf[:n])
		x.mtx.Lock()
		x.sf, x.angv, x.att = sf, angv, att
		x.mtx.Unlock()
	}
}

// parseXP9 extracts the consumed fields from a 185-byte X-Plane 9
// datagram and applies the unit conversions: accelerations g to m/s^2,
// attitude degrees to radians. Body rates are already rad/s.
func parseXP9(b []byte) (sf, angv, att Vector3) {
	sf = Vector3{
		leF32(b[xp9OffsetSFX:]),
		leF32(b[xp9OffsetSFY:]),
		leF32(b[xp9OffsetSFZ:]),
	}.Scale(Gravity)

	angv = Vector3{
		leF32(b[xp9OffsetP:]),
		leF32(b[xp9OffsetQ:]),
		leF32(b[xp9OffsetR:]),
	}

	att = Vector3{
		leF32(b[xp9OffsetPhi:]),
		leF32(b[xp9OffsetTheta:]),
		leF32(b[xp9OffsetPsi:]),
	}.Scale(math.Pi / 180)

	return
}

func leF32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// Latest copies the most recent telemetry triple. It never blocks beyond
// the short-held mutex and always returns a fully received triple.
func (x *XPlaneSocket) Latest() (sf, angv, att Vector3) {
	x.mtx.Lock()
	defer x.mtx.Unlock()
	return x.sf, x.angv, x.att
}

// Stop closes the socket, unblocking the worker, and waits for it to
// return.
func (x *XPlaneSocket) Stop() error {
	err := x.conn.Close()
	<-x.done
	return err
}

// LocalPort returns the bound local port, useful when port 0 was
// requested.
func (x *XPlaneSocket) LocalPort() int {
	return x.conn.LocalAddr().(*net.UDPAddr).Port
}
