// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"strings"
)

// ConfigSize is the exact size of the binary MDA parameter bundle.
const ConfigSize = 4096

// CRCPosition is the offset of the stored CRC32, which also bounds the
// region the CRC is computed over.
const CRCPosition = 0xBB0

// configMagic is the 16-byte header a supported bundle starts with,
// compared case-insensitively.
const configMagic = "MCIS v05 CONFIG "

// BiquadSection holds the parameters of one discrete biquad section. The a0
// coefficient is always 1 and is omitted.
type BiquadSection struct {
	B0, B1, B2 float64
	A1, A2     float64
	Gain       float64
}

// DiscreteFilt describes a discrete filter as a chain of up to four biquad
// sections. Sections are used from 0 to SectionsInUse-1, in order; the rest
// are ignored.
type DiscreteFilt struct {
	SectionsInUse uint8
	Description   string
	Biquads       [4]BiquadSection
}

// ContinuousFilt holds the continuous-time counterpart of a discrete
// filter. It is retained for traceability only and is never used at
// runtime.
type ContinuousFilt struct {
	Order       uint8
	Description string
	B           [8]float64
	A           [8]float64
}

// FilterSlot pairs a continuous filter description with its discretized
// form, as stored in the bundle.
type FilterSlot struct {
	Cont ContinuousFilt
	Disc DiscreteFilt
}

// Config is the frozen MDA parameter bundle. It is created once at startup
// and read-only thereafter.
type Config struct {
	Header     string // 28-byte header, including generation date
	SampleRate uint32 // sample rate in Hz

	// High-pass channel gains
	KSFX, KSFY, KSFZ float64
	KP, KQ, KR       float64
	// High-pass channel pre-filter limits
	LimSFX, LimSFY, LimSFZ float64
	LimP, LimQ, LimR       float64
	// Tilt coordination gains, limits and rate limits (rad/s)
	KTCX, KTCY             float64
	LimTCX, LimTCY         float64
	RatelimTCX, RatelimTCY float64

	// Specific force high-pass filters
	SFHPX, SFHPY, SFHPZ FilterSlot
	// Specific force low-pass filters for tilt coordination
	SFLPX, SFLPY FilterSlot
	// Angular rate high-pass filters
	PHP, QHP, RHP FilterSlot

	CRC      uint32
	Comments string // trailing comment block, copied verbatim
}

// BadLengthError reports a bundle that is not exactly ConfigSize bytes.
type BadLengthError struct {
	Expected int
	Read     int
}

func (e *BadLengthError) Error() string {
	return fmt.Sprintf("MDA config has bad length: expected %d bytes, read %d",
		e.Expected, e.Read)
}

// BadCRCError reports a mismatch between the stored and computed CRC32.
type BadCRCError struct {
	Stored   uint32
	Computed uint32
}

func (e *BadCRCError) Error() string {
	return fmt.Sprintf("MDA config CRC mismatch: stored 0x%08X, computed 0x%08X",
		e.Stored, e.Computed)
}

// ErrLittleEndianConfig reports an old little-endian bundle (versions v00
// through v04), which are no longer supported.
var ErrLittleEndianConfig = errors.New(
	"MDA config uses an old little-endian format, v05 is required")

// ErrUnsupportedConfig reports an unknown bundle format or invalid header.
var ErrUnsupportedConfig = errors.New(
	"unknown MDA config format or invalid header")

// LoadConfig reads and validates a binary MDA parameter bundle from the
// given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open MDA config: %w", err)
	}
	return ParseConfig(buf)
}

// ParseConfig validates and decodes a binary MDA parameter bundle.
// Everything in the bundle is network byte order.
func ParseConfig(buf []byte) (*Config, error) {
	if len(buf) != ConfigSize {
		return nil, &BadLengthError{ConfigSize, len(buf)}
	}

	computed := crc32.ChecksumIEEE(buf[:CRCPosition])
	stored := binary.BigEndian.Uint32(buf[CRCPosition:])
	if stored != computed {
		return nil, &BadCRCError{stored, computed}
	}

	if !strings.EqualFold(string(buf[:16]), configMagic) {
		if buf[7] >= '0' && buf[7] <= '4' {
			return nil, ErrLittleEndianConfig
		}
		return nil, ErrUnsupportedConfig
	}

	c := &Config{}
	d := decoder{buf: buf}

	c.Header = d.chars(28)
	c.SampleRate = d.uint32()

	c.KSFX = d.double()
	c.KSFY = d.double()
	c.KSFZ = d.double()
	c.KP = d.double()
	c.KQ = d.double()
	c.KR = d.double()

	c.LimSFX = d.double()
	c.LimSFY = d.double()
	c.LimSFZ = d.double()
	c.LimP = d.double()
	c.LimQ = d.double()
	c.LimR = d.double()

	c.KTCX = d.double()
	c.KTCY = d.double()
	c.LimTCX = d.double()
	c.LimTCY = d.double()
	c.RatelimTCX = d.double()
	c.RatelimTCY = d.double()

	for _, slot := range []*FilterSlot{
		&c.SFHPX, &c.SFHPY, &c.SFHPZ,
		&c.SFLPX, &c.SFLPY,
		&c.PHP, &c.QHP, &c.RHP,
	} {
		slot.Cont = d.continuousFilt()
		slot.Disc = d.discreteFilt()
	}

	c.CRC = d.uint32()
	c.Comments = d.chars(1100)

	return c, nil
}

// decoder walks a config buffer, decoding fields in layout order.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) chars(n int) string {
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return strings.TrimRight(s, "\x00")
}

func (d *decoder) byte() uint8 {
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *decoder) uint32() uint32 {
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) double() float64 {
	v := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.off:]))
	d.off += 8
	return v
}

func (d *decoder) continuousFilt() (f ContinuousFilt) {
	f.Order = d.byte()
	f.Description = d.chars(15)
	for i := range f.B {
		f.B[i] = d.double()
	}
	for i := range f.A {
		f.A[i] = d.double()
	}
	return
}

func (d *decoder) discreteFilt() (f DiscreteFilt) {
	f.SectionsInUse = d.byte()
	f.Description = d.chars(15)
	for i := range f.Biquads {
		f.Biquads[i].B0 = d.double()
		f.Biquads[i].B1 = d.double()
		f.Biquads[i].B2 = d.double()
		f.Biquads[i].A1 = d.double()
		f.Biquads[i].A2 = d.double()
		f.Biquads[i].Gain = d.double()
	}
	return
}

func (s BiquadSection) String() string {
	return fmt.Sprintf("b=[%g %g %g] a=[1 %g %g] gain=%g",
		s.B0, s.B1, s.B2, s.A1, s.A2, s.Gain)
}

func (f DiscreteFilt) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d sections)", f.Description, f.SectionsInUse)
	for i := 0; i < int(f.SectionsInUse) && i < len(f.Biquads); i++ {
		fmt.Fprintf(&b, "\n    [%d] %s", i, f.Biquads[i])
	}
	return b.String()
}

// String dumps the loaded bundle for operator verification.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d Hz\n", c.Header, c.SampleRate)
	fmt.Fprintf(&b, "K_SF       = [%g %g %g]\n", c.KSFX, c.KSFY, c.KSFZ)
	fmt.Fprintf(&b, "K_pqr      = [%g %g %g]\n", c.KP, c.KQ, c.KR)
	fmt.Fprintf(&b, "lim_SF     = [%g %g %g]\n", c.LimSFX, c.LimSFY, c.LimSFZ)
	fmt.Fprintf(&b, "lim_pqr    = [%g %g %g]\n", c.LimP, c.LimQ, c.LimR)
	fmt.Fprintf(&b, "K_TC       = [%g %g]\n", c.KTCX, c.KTCY)
	fmt.Fprintf(&b, "lim_TC     = [%g %g]\n", c.LimTCX, c.LimTCY)
	fmt.Fprintf(&b, "ratelim_TC = [%g %g] rad/s\n", c.RatelimTCX, c.RatelimTCY)
	for _, f := range []struct {
		name string
		slot *FilterSlot
	}{
		{"SF HP x", &c.SFHPX}, {"SF HP y", &c.SFHPY}, {"SF HP z", &c.SFHPZ},
		{"SF LP x", &c.SFLPX}, {"SF LP y", &c.SFLPY},
		{"p HP", &c.PHP}, {"q HP", &c.QHP}, {"r HP", &c.RHP},
	} {
		fmt.Fprintf(&b, "%-8s: %s\n", f.name, f.slot.Disc)
	}
	return b.String()
}
