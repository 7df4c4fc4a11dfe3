// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroimartin/gocui"

	"github.com/svi-lab/mcis"
)

// refreshInterval is the status view update period.
const refreshInterval = 100 * time.Millisecond

// runUI runs the operator terminal UI until the user quits. Q parks the
// base first when it is in motion; a second Q after parking exits.
func runUI(iface *mcis.MBInterface, subGrav bool) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("start terminal UI: %w", err)
	}
	defer g.Close()

	ui := &ui{iface, subGrav}
	g.SetManagerFunc(ui.layout)

	if err = ui.keybindings(g); err != nil {
		return err
	}

	// refresh ticker and signal handling
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(refreshInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				g.Update(func(*gocui.Gui) error { return nil })
			case <-sig:
				g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
			case <-done:
				return
			}
		}
	}()

	if err = g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// ui renders the session status and dispatches key presses to the
// interface.
type ui struct {
	iface   *mcis.MBInterface
	subGrav bool
}

func (u *ui) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	v, err := g.SetView("status", 0, 0, maxX-1, maxY-1)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}
	v.Clear()
	u.render(v)
	return nil
}

func (u *ui) render(v *gocui.View) {
	fmt.Fprintln(v, " E - Engage    R - Ready/Reset    P - Park    Q - Park or Exit")
	fmt.Fprintln(v)

	fmt.Fprintf(v, "   MB state: %-10s", u.iface.MBState())
	if u.subGrav {
		fmt.Fprintf(v, "          Subtracting gravity\n")
	} else {
		fmt.Fprintf(v, "          NO GRAVITY SUBTRACTION\n")
	}
	if u.iface.FaultLatched() {
		fmt.Fprintln(v, "   MB has latched a fault")
	}

	fmt.Fprintf(v, "   Interface status: %s\n", statusLine(u.iface))
	fmt.Fprintln(v)

	sf, angv, att, pos, rot := u.iface.MDAStatus()
	fmt.Fprintf(v, "   Input acceleration:     %s\n", sf)
	fmt.Fprintf(v, "   Input angular velocity: %s\n", angv)
	fmt.Fprintf(v, "   Input attitude:         %s\n", att)
	fmt.Fprintln(v)
	fmt.Fprintf(v, "   Output position:        %s\n", pos)
	fmt.Fprintf(v, "   Output angles:          %s\n", rot)
	fmt.Fprintln(v)
	fmt.Fprintf(v, "   Send clock ticks: %d\n", u.iface.Ticks())
}

func statusLine(iface *mcis.MBInterface) string {
	switch iface.Status() {
	case mcis.EstablishComms:
		return "Establishing communication"
	case mcis.WaitForEngage:
		return "Waiting for user to engage (press E)"
	case mcis.Engaging:
		return "MB engaging, please wait..."
	case mcis.WaitForReady:
		return "MB engaged. Press R to initiate motion"
	case mcis.RateLimited:
		return "Engaged - output is rate limited"
	case mcis.Engaged:
		return "Engaged."
	case mcis.Parking:
		return "MB parking, please wait..."
	case mcis.MBFault:
		return fmt.Sprintf("MB fault (%s)! Troubleshooting required", iface.Reason())
	case mcis.MBRecoverableFault:
		return "MB reports a possibly recoverable fault. Press R to send RESET"
	default:
		return iface.Status().String()
	}
}

func (u *ui) keybindings(g *gocui.Gui) error {
	bind := func(key rune, fn func()) error {
		for _, k := range []rune{key, key - 'a' + 'A'} {
			if err := g.SetKeybinding("", k, gocui.ModNone,
				func(*gocui.Gui, *gocui.View) error {
					fn()
					return nil
				}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := bind('e', u.engage); err != nil {
		return err
	}
	if err := bind('r', u.readyOrReset); err != nil {
		return err
	}
	if err := bind('p', u.iface.SetPark); err != nil {
		return err
	}
	for _, k := range []interface{}{'q', 'Q', '.', gocui.KeyCtrlC} {
		if err := g.SetKeybinding("", k, gocui.ModNone, u.quit); err != nil {
			return err
		}
	}
	return nil
}

func (u *ui) engage() {
	if u.iface.Status() == mcis.WaitForEngage {
		u.iface.SetEngage()
	}
}

func (u *ui) readyOrReset() {
	switch u.iface.Status() {
	case mcis.WaitForReady:
		u.iface.SetReady()
	case mcis.MBRecoverableFault:
		u.iface.SetReset()
	}
}

// quit parks the base if it is in motion; otherwise it exits the UI. The
// '.' binding allows an emergency park from presentation remotes.
func (u *ui) quit(*gocui.Gui, *gocui.View) error {
	switch u.iface.Status() {
	case mcis.Engaging, mcis.WaitForReady, mcis.RateLimited,
		mcis.Engaged, mcis.Parking:
		u.iface.SetPark()
		return nil
	}
	return gocui.ErrQuit
}
