// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

// Command mcis-offline runs the washout filter pipeline over recorded
// telemetry. Each input CSV (nine columns: specific force, body rates,
// attitude) produces <path>out.csv with the position and attitude
// commands, the latter both with and without tilt coordination.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/svi-lab/mcis"
)

func main() {
	var (
		configPath = pflag.String("config", "MCISconfig.bin",
			"path to the binary MDA parameter bundle")
		noGrav = pflag.Bool("nograv", false,
			"disable gravity subtraction in the positional channel")
	)
	pflag.Parse()

	if pflag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcis-offline [flags] input.csv ...")
		os.Exit(2)
	}

	cfg, err := mcis.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Configuration loaded.")

	status := 0
	for _, path := range pflag.Args() {
		if err := process(cfg, path, !*noGrav); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
			continue
		}
		fmt.Printf("%s: done\n", path)
	}
	os.Exit(status)
}

// process runs one input file through a fresh MDA.
func process(cfg *mcis.Config, path string, subGrav bool) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + "out.csv")
	if err != nil {
		return err
	}
	defer out.Close()

	mda := mcis.NewMDA(cfg, subGrav)
	r := mcis.NewInputReader(in)
	for {
		acc, angv, att, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		mda.Step(acc, angv, att)
		if err = mcis.WriteOutputsRow(out,
			mda.Pos(), mda.Angle(), mda.AngleNoTC()); err != nil {
			return err
		}
	}
}
