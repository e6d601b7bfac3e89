package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestLogWritesBaseKeys(t *testing.T) {
	l := Logger()
	original := l.Writer()
	l.SetFlags(0)
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(original)

	Log("warn", "audit_write_failed", map[string]any{"err": errors.New("boom"), "msg": "ignored"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "audit_write_failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["err"] != "boom" {
		t.Fatalf("expected error rendered as string, got %v", entry["err"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}
