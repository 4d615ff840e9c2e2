package logging

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

func TestLoggerEmitsStructuredEntries(t *testing.T) {
	h := memory.New()
	old := Logger.Handler
	Logger.Handler = h
	defer func() { Logger.Handler = old }()

	Logger.WithField("flow", 7).Info("testing")

	if len(h.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(h.Entries))
	}
	e := h.Entries[0]
	if e.Message != "testing" || e.Fields.Get("flow") != 7 {
		t.Errorf("entry = %+v", e)
	}
	if e.Level != log.InfoLevel {
		t.Errorf("level = %v", e.Level)
	}
}

func TestLoggerKeepsDebugEntries(t *testing.T) {
	if Logger.Level > log.DebugLevel {
		t.Error("frame-skip diagnostics are logged at debug and must not be filtered")
	}
}
