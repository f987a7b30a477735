// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := ParseLevel("loud"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("ParseLevel(loud) error = %v, want ErrUnknownLevel", err)
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_UnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("New() error = %v, want ErrUnknownLevel", err)
	}
}

func TestNew_TextToStderr(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Service: "test", Stderr: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	logger.Slog().Info("hello", slog.String("component", "snapshot"))
	logger.Slog().Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("output %q missing message", out)
	}
	if !strings.Contains(out, "service=test") || !strings.Contains(out, "component=snapshot") {
		t.Errorf("output %q missing attributes", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	if logger.Path() != "" {
		t.Errorf("Path() = %q, want empty", logger.Path())
	}
}

func TestNew_JSONStderr(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", JSON: true, Stderr: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Slog().Debug("visible", slog.Int("partitions", 3))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "visible" || rec["partitions"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var stderr bytes.Buffer
	logger, err := New(Config{Dir: dir, Service: "changegraph", Stderr: &stderr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Slog().Warn("written twice")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.HasPrefix(filepath.Base(logger.Path()), "changegraph_") {
		t.Errorf("Path() = %q", logger.Path())
	}
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written twice"`) {
		t.Errorf("file content %q missing record", data)
	}
	if !strings.Contains(stderr.String(), "written twice") {
		t.Errorf("stderr %q missing record", stderr.String())
	}

	// Closing twice is harmless.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNew_FileLogging_DirIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Dir: file, Quiet: true}); err == nil {
		t.Fatal("New() succeeded with a file as log directory")
	}
}

func TestNew_QuietWithoutDirDiscards(t *testing.T) {
	logger, err := New(Config{Quiet: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Slog().Error("nowhere")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf syncBuffer
	logger, err := New(Config{Stderr: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Slog().Info("tick", slog.Int("worker", i))
		}(i)
	}
	wg.Wait()
	if got := strings.Count(buf.String(), "msg=tick"); got != 8 {
		t.Errorf("records = %d, want 8", got)
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_LevelsAndAttrs(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) = false, want true")
	}

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g"))
	logger.Info("info", slog.Int("n", 1))
	logger.Error("boom")

	if !strings.Contains(debugBuf.String(), "msg=info") || !strings.Contains(debugBuf.String(), "g.n=1") {
		t.Errorf("debug handler output %q", debugBuf.String())
	}
	if strings.Contains(errorBuf.String(), "msg=info") {
		t.Errorf("error handler received info record: %q", errorBuf.String())
	}
	if !strings.Contains(errorBuf.String(), "k=v") {
		t.Errorf("error handler output %q missing attrs", errorBuf.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.changegraph/logs"); got != filepath.Join(home, ".changegraph/logs") {
		t.Errorf("expandPath(~) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
