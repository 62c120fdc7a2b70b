// Package nlog is a minimal leveled logger for the non-fatal
// diagnostics the generation chain emits off the hot path: contention
// warnings and grow notices. Adapted from the teacher's buffered,
// rotating file logger, trimmed to what a library (as opposed to a
// long-running service) needs: no file rotation, no flush daemon.
/*
 * Copyright (c) 2023-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = "IWE"

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all subsequent log lines; tests use this to
// capture and assert on emitted diagnostics.
func SetOutput(w io.Writer) {
	mu.Lock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	mu.Unlock()
}

func Infof(format string, args ...any)  { log(sevInfo, format, args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorf(format string, args ...any) { log(sevErr, format, args...) }
func Errorln(args ...any)               { log(sevErr, "", args...) }

func log(sev severity, format string, args ...any) {
	var line strings.Builder
	formatHdr(sev, &line)
	if format == "" {
		fmt.Fprintln(&line, args...)
	} else {
		fmt.Fprintf(&line, format, args...)
		line.WriteByte('\n')
	}
	mu.Lock()
	io.WriteString(out, line.String())
	mu.Unlock()
}

func formatHdr(s severity, w *strings.Builder) {
	_, fn, ln, ok := runtime.Caller(3)
	w.WriteByte(sevChar[s])
	w.WriteByte(' ')
	w.WriteString(time.Now().Format("15:04:05.000000"))
	w.WriteByte(' ')
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	w.WriteString(fn)
	w.WriteByte(':')
	w.WriteString(strconv.Itoa(ln))
	w.WriteByte(' ')
}
