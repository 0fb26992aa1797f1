// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package config loads the settings for cmd/leasedqd: a YAML file read
// through viper, overridable by pflag flags, with cast used at the boundary
// where a loosely-typed config value becomes a concrete Go type.
package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the settings cmd/leasedqd needs to construct and run a Queue.
type Config struct {
	// DefaultLeaseTimeout is passed through to leasedkeyq.Options. Zero means
	// no default timeout (leases never expire on their own).
	DefaultLeaseTimeout time.Duration

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string

	// LogFile, if non-empty, mirrors WARN+ log entries to this path.
	LogFile string
}

// BindFlags registers the flags Load reads back via viper. Call this before
// pflag.Parse().
func BindFlags(fs *pflag.FlagSet) {
	fs.String("lease-timeout", "0s", "default lease timeout (0 disables expiry)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-file", "", "mirror warn+ log entries to this file (disabled if empty)")
}

// Load reads settings from an optional YAML config file and the environment,
// then layers pflag overrides on top, and returns the resolved Config.
// configPath may be empty, in which case only flags and environment
// variables are consulted.
func Load(configPath string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("lease-timeout", "0s")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")

	v.SetEnvPrefix("LEASEDQD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, err
		}
	}

	leaseTimeout, err := cast.ToDurationE(v.Get("lease-timeout"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		DefaultLeaseTimeout: leaseTimeout,
		LogLevel:            v.GetString("log-level"),
		LogFile:             v.GetString("log-file"),
	}, nil
}
