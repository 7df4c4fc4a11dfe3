// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// NetConfig holds the application-level endpoint and policy settings, read
// from a TOML file. Fields absent from the file keep the reference
// platform defaults.
type NetConfig struct {
	// MBAddr is the motion base address, host:port.
	MBAddr string `toml:"mb_addr"`
	// LocalPort is the local port MB commands are sent from.
	LocalPort uint16 `toml:"local_port"`
	// XPlanePort is the local port simulator telemetry arrives on.
	XPlanePort uint16 `toml:"xplane_port"`
	// MetricsAddr is the Prometheus listen address; empty disables the
	// listener.
	MetricsAddr string `toml:"metrics_addr"`
	// Fault2Recoverable maps MB FAULT2 to the recoverable fault state.
	Fault2Recoverable bool `toml:"fault2_recoverable"`

	// Envelope overrides, all optional.
	PosLow  []float64 `toml:"pos_low"`
	PosHigh []float64 `toml:"pos_high"`
	RotLow  []float64 `toml:"rot_low"`
	RotHigh []float64 `toml:"rot_high"`
	ZOffset *float64  `toml:"z_offset"`
}

// DefaultNetConfig is the reference platform addressing.
var DefaultNetConfig = NetConfig{
	MBAddr:     "192.168.20.5:991",
	LocalPort:  10500,
	XPlanePort: 49000,
}

// LoadNetConfig reads a TOML endpoint config. A missing file yields the
// defaults.
func LoadNetConfig(path string) (NetConfig, error) {
	c := DefaultNetConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("parse net config %s: %w", path, err)
	}
	return c, nil
}

// BuildEnvelope applies any envelope overrides to the default envelope.
func (c NetConfig) BuildEnvelope() (Envelope, error) {
	e := DefaultEnvelope
	for _, o := range []struct {
		name string
		src  []float64
		dst  *Vector3
	}{
		{"pos_low", c.PosLow, &e.PosLow},
		{"pos_high", c.PosHigh, &e.PosHigh},
		{"rot_low", c.RotLow, &e.RotLow},
		{"rot_high", c.RotHigh, &e.RotHigh},
	} {
		if o.src == nil {
			continue
		}
		if len(o.src) != 3 {
			return e, fmt.Errorf("%s must have 3 elements, has %d",
				o.name, len(o.src))
		}
		copy(o.dst[:], o.src)
	}
	if c.ZOffset != nil {
		e.ZOffset = *c.ZOffset
	}
	return e, nil
}
