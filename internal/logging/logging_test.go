package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLoggerTo(&buf, Config{Level: "debug", Format: "json"}), "sync")
	logger.Debug().Str("card_id", "abc").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line should be json: %v (%q)", err, buf.String())
	}
	if entry["component"] != "sync" {
		t.Fatalf("component field missing: %#v", entry)
	}
	if entry["card_id"] != "abc" {
		t.Fatalf("card_id field missing: %#v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("timestamp missing: %#v", entry)
	}
}

func TestNewLoggerToLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "warn"})
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "loud"})
	logger.Debug().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at default level, got %q", buf.String())
	}
}
