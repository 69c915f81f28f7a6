package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfo(t *testing.T) {
	logger, err := New(Options{Output: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
}

func TestNewJSONFormat(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: FormatJSON, Output: &out})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.WithField("peer", "abc").Debug("hello")

	var line map[string]any
	if err := json.Unmarshal(out.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", out.String(), err)
	}
	if line["msg"] != "hello" || line["peer"] != "abc" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewRejectsUnknownInputs(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	if _, err := New(Options{Format: "xml"}); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown format to fail, got %v", err)
	}
}
