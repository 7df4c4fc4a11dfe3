// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteMDARow appends one MDA log row: fifteen comma-separated doubles,
// inputs then outputs.
func WriteMDARow(w io.Writer, accIn, angvIn, attIn, posOut, rotOut Vector3) error {
	_, err := fmt.Fprintf(w, "%s,%s,%s,%s,%s\n",
		csvVec(accIn), csvVec(angvIn), csvVec(attIn),
		csvVec(posOut), csvVec(rotOut))
	return err
}

// WriteOutputsRow appends one offline output row: position, attitude, and
// attitude exclusive of tilt coordination.
func WriteOutputsRow(w io.Writer, posOut, rotOut, rotNoTC Vector3) error {
	_, err := fmt.Fprintf(w, "%s,%s,%s\n",
		csvVec(posOut), csvVec(rotOut), csvVec(rotNoTC))
	return err
}

func csvVec(v Vector3) string {
	return csvFloat(v[0]) + "," + csvFloat(v[1]) + "," + csvFloat(v[2])
}

func csvFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// InputReader reads offline MDA input rows: nine comma-separated doubles
// per line, specific force, body rates, then attitude.
type InputReader struct {
	s    *bufio.Scanner
	line int
}

// NewInputReader returns a new InputReader on r.
func NewInputReader(r io.Reader) *InputReader {
	return &InputReader{bufio.NewScanner(r), 0}
}

// Read returns the next input triple. It returns io.EOF after the last
// row.
func (r *InputReader) Read() (accIn, angvIn, attIn Vector3, err error) {
	for {
		if !r.s.Scan() {
			if err = r.s.Err(); err == nil {
				err = io.EOF
			}
			return
		}
		r.line++
		t := strings.TrimSpace(r.s.Text())
		if t == "" {
			continue
		}
		f := strings.Split(t, ",")
		if len(f) != 9 {
			err = fmt.Errorf("line %d: %d fields, want 9", r.line, len(f))
			return
		}
		var v [9]float64
		for i, s := range f {
			if v[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				err = fmt.Errorf("line %d: %w", r.line, err)
				return
			}
		}
		accIn = Vector3{v[0], v[1], v[2]}
		angvIn = Vector3{v[3], v[4], v[5]}
		attIn = Vector3{v[6], v[7], v[8]}
		return
	}
}

// OpenMDALog opens a fresh MDA log file in dir, named mdalog1.csv,
// mdalog2.csv and so on; existing logs are never clobbered. Attempts are
// bounded.
func OpenMDALog(dir string) (*os.File, error) {
	for i := 1; i <= 50; i++ {
		path := fmt.Sprintf("%s/mdalog%d.csv", dir, i)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("open MDA log %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("no free MDA log name in %s after 50 attempts", dir)
}
