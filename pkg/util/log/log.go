// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package log provides context-aware leveled logging. Ambient context is
// carried as logtags on the context and rendered as a bracketed prefix on
// every line.
package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// Severity labels a log entry.
type Severity int

const (
	// SeverityInfo is for routine events.
	SeverityInfo Severity = iota
	// SeverityWarning is for events that merit attention but do not
	// interrupt service.
	SeverityWarning
	// SeverityError is for events that indicate a failed operation.
	SeverityError
	// SeverityFatal is for unrecoverable programming errors; logging at
	// this severity terminates the process.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "I"
	case SeverityWarning:
		return "W"
	case SeverityError:
		return "E"
	case SeverityFatal:
		return "F"
	default:
		return "?"
	}
}

var output struct {
	mu syncutil.Mutex
	w  io.Writer
}

func init() {
	output.w = os.Stderr
}

// SetOutput redirects log output, returning the previous writer. Intended
// for tests.
func SetOutput(w io.Writer) io.Writer {
	output.mu.Lock()
	defer output.mu.Unlock()
	prev := output.w
	output.w = w
	return prev
}

// exitFunc is overridable so that Fatalf can be exercised in tests.
var exitFunc = os.Exit

// Infof logs a formatted message at info severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logfDepth(ctx, SeverityInfo, format, args...)
}

// Warningf logs a formatted message at warning severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logfDepth(ctx, SeverityWarning, format, args...)
}

// Errorf logs a formatted message at error severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logfDepth(ctx, SeverityError, format, args...)
}

// Fatalf logs a formatted message at fatal severity and terminates the
// process. It is reserved for invariant violations that indicate a bug in
// the caller and cannot be recovered from.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logfDepth(ctx, SeverityFatal, format, args...)
	exitFunc(255)
}

func logfDepth(ctx context.Context, sev Severity, format string, args ...interface{}) {
	msg := redact.Sprintf(format, args...).StripMarkers()
	var tags string
	if b := logtags.FromContext(ctx); b != nil {
		tags = " [" + b.String() + "]"
	}
	line := fmt.Sprintf("%s%s%s %s\n",
		sev, timeutil.Now().Format("060102 15:04:05.000000"), tags, msg)
	output.mu.Lock()
	defer output.mu.Unlock()
	fmt.Fprint(output.w, line)
}
