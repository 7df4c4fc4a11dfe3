// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

// Command mcis is the real-time motion cueing daemon. It ingests simulator
// telemetry over UDP, runs the washout filter pipeline, and drives a MOOG
// 6DOF2000E class motion base at 60 commands/s, with an operator terminal
// UI for the engage/park session.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/svi-lab/mcis"
)

func main() {
	var (
		configPath = pflag.String("config", "MCISconfig.bin",
			"path to the binary MDA parameter bundle")
		netPath = pflag.String("net", "mcis.toml",
			"path to the TOML endpoint config")
		noGrav = pflag.Bool("nograv", false,
			"disable gravity subtraction in the positional channel")
		logDir = pflag.String("log-dir", ".",
			"directory for the MDA log and the daemon log")
	)
	pflag.Parse()

	if err := run(*configPath, *netPath, *logDir, !*noGrav); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, netPath, logDir string, subGrav bool) error {
	cfg, err := mcis.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Println("Configuration loaded.")
	fmt.Print(cfg)

	netCfg, err := mcis.LoadNetConfig(netPath)
	if err != nil {
		return err
	}
	env, err := netCfg.BuildEnvelope()
	if err != nil {
		return err
	}

	if !subGrav {
		fmt.Println()
		fmt.Println("*** WARNING: GRAVITY SUBTRACTION IS DISABLED ***")
		fmt.Println("*** The platform will heave to its limit under 1 g. ***")
		fmt.Println("*** Only proceed with an offline or test target.    ***")
		fmt.Print("Press Enter to continue, Ctrl-C to abort: ")
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
			return fmt.Errorf("confirmation aborted: %w", err)
		}
	}

	daemonLog, err := os.OpenFile(logDir+"/mcis.log",
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer daemonLog.Close()
	logger := logrus.New()
	logger.SetOutput(daemonLog)
	log := logrus.NewEntry(logger)

	mdaLog, err := mcis.OpenMDALog(logDir)
	if err != nil {
		return err
	}
	defer mdaLog.Close()
	fmt.Printf("Using MDA logfile: %s\n", mdaLog.Name())

	reg := prometheus.NewRegistry()
	met := mcis.NewMetrics(reg)
	if netCfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg,
			promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(netCfg.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	if netCfg.Fault2Recoverable {
		log.Warn("FAULT2 policy: recoverable, RESET affordance active")
	} else {
		log.Info("FAULT2 policy: non-recoverable")
	}

	log.WithFields(logrus.Fields{
		"mb":     netCfg.MBAddr,
		"local":  netCfg.LocalPort,
		"xplane": netCfg.XPlanePort,
		"subgrav": subGrav,
	}).Info("initiating MB interface")

	iface, err := mcis.NewMBInterface(cfg, mcis.IfaceOptions{
		MBAddr:            netCfg.MBAddr,
		LocalPort:         netCfg.LocalPort,
		XPlanePort:        netCfg.XPlanePort,
		SubtractGravity:   subGrav,
		Fault2Recoverable: netCfg.Fault2Recoverable,
		Envelope:          env,
		Log:               log,
		Metrics:           met,
		MDALog:            mdaLog,
	})
	if err != nil {
		return err
	}

	if err := runUI(iface, subGrav); err != nil {
		log.WithError(err).Error("UI loop failed")
	}

	log.Info("stopping MB interface")
	if err := iface.Stop(); err != nil {
		return fmt.Errorf("stop MB interface: %w", err)
	}
	return nil
}
