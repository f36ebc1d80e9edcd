package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFieldsSkipsEmpty(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  provider  ", Value: "  gemini  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields[0].Key != "provider" || fields[0].String != "gemini" {
		t.Fatalf("unexpected field: %+v", fields[0])
	}
}

func TestWithFieldsAttaches(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	log := WithFields(zap.New(core), CommonFields("openai", "gpt-4o")...)
	log.Info("call")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx[FieldProvider] != "openai" || ctx[FieldModel] != "gpt-4o" {
		t.Fatalf("unexpected context %v", ctx)
	}
}

func TestWithFieldsNilLogger(t *testing.T) {
	if WithFields(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := TruncateForLog("héllo world", 5); got != "héllo..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := TruncateForLog("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
}
