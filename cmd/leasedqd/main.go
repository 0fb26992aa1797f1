// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Command leasedqd is a thin daemon wrapper around a leasedkeyq.Queue. It
// exists to give the ambient stack (flags, config, logging) a realistic
// caller; it holds no domain logic of its own.
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nickweedon/leasedkeyq"
	"github.com/nickweedon/leasedkeyq/config"
	"github.com/nickweedon/leasedkeyq/logger"
)

var log = logger.GetLogger("cmd/leasedqd")

func main() {
	configFile := pflag.String("config", "", "path to a YAML config file (optional)")
	config.BindFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configFile, pflag.CommandLine)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	logger.SetLevel(cfg.LogLevel)
	if err := logger.SetFileOutput(cfg.LogFile); err != nil {
		log.WithError(err).Fatal("failed to open log file")
	}

	opts := leasedkeyq.Options{}
	if cfg.DefaultLeaseTimeout > 0 {
		opts.DefaultLeaseTimeout = &cfg.DefaultLeaseTimeout
	}
	q := leasedkeyq.New[string, json.RawMessage](opts)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- leasedkeyq.Run(q, func(q *leasedkeyq.Queue[string, json.RawMessage]) error {
			log.Info("leasedqd ready")
			<-sig
			log.Info("leasedqd shutting down")
			return nil
		})
	}()

	if err := <-errCh; err != nil {
		log.WithError(err).Fatal("leasedqd exited with error")
	}
}
