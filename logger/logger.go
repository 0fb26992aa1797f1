// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package logger provides the shared logrus instance used by every package
// in this module. Call GetLogger once per component and keep the returned
// entry, the same way the teacher's plugins/leasestorage/transient package
// kept a package-level "log" bound to its own component name.
package logger

import (
	"io"
	"os"

	prefixed "github.com/chappjc/logrus-prefix"
	"github.com/mattn/go-colorable"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// std is the process-wide logrus instance. All GetLogger entries share it,
// so a single SetLevel/SetFileOutput call affects every component at once.
var std = logrus.New()

func init() {
	std.SetOutput(colorable.NewColorableStdout())
	std.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp: true,
	})
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel changes the process-wide log level. It accepts logrus level
// names ("debug", "info", "warn", "error") via ParseLevel and is a no-op if
// the name is unrecognized.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	std.SetLevel(lvl)
}

// SetFileOutput mirrors WARN-and-above entries to path, in addition to the
// existing stdout output, using the same lfshook wiring the teacher pinned
// in go.mod for file-backed audit trails. An empty path disables file
// mirroring (and clears any hook previously installed by this call).
func SetFileOutput(path string) error {
	std.Hooks = make(logrus.LevelHooks)
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	writers := lfshook.WriterMap{
		logrus.WarnLevel:  f,
		logrus.ErrorLevel: f,
		logrus.FatalLevel: f,
		logrus.PanicLevel: f,
	}
	std.AddHook(lfshook.NewHook(writers, &prefixed.TextFormatter{}))
	return nil
}

// SetOutput overrides where non-hooked log entries are written. Exposed
// mainly so tests can capture output without going through os.Stdout.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// GetLogger returns a *logrus.Entry carrying component as a field, mirroring
// the teacher's logger.GetLogger("plugins/leasestorage/transient") call-site
// convention. Callers should call this once and keep the returned entry
// rather than calling it on every log line.
func GetLogger(component string) *logrus.Entry {
	return std.WithField("component", component)
}
