package telemetry

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	appLog "calwatch/internal/log"
)

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	defer appLog.SetOutput(os.Stderr)

	var r Reporter = Log{}
	r.Capture(errors.New("publish rejected"), "card", "event_starts")

	if !strings.Contains(buf.String(), "err=publish rejected card=event_starts") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestSentryWithoutDSNIsInert(t *testing.T) {
	s, err := NewSentry("", "calwatch@test")
	if err != nil {
		t.Fatalf("NewSentry() error = %v", err)
	}
	s.Capture(errors.New("boom"), "calendar", "work")
	s.Close()
}

func TestSentryRejectsBadDSN(t *testing.T) {
	if _, err := NewSentry("not a dsn", "calwatch@test"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}
