package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithTenantID(ctx, "tenant-a")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"tenant_id\":\"tenant-a\"")) {
		t.Fatalf("expected tenant_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Level: "debug", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("did not expect stack when warn stack disabled")
	}
}

func TestLoggerWithFieldsDoesNotLeakAcrossContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	base := context.Background()
	_ = log.WithFields(base, map[string]any{"cart_id": "c-1"})
	log.Info(base, "plain")

	if bytes.Contains(buf.Bytes(), []byte("cart_id")) {
		t.Fatalf("fields attached to a derived context must not leak; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestLoggerErrorTagsTypedCode(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatJSON})

	ctx := log.WithInvoiceID(context.Background(), "inv-9")
	log.Error(ctx, "gateway down", pkgerrors.New(pkgerrors.CodeDependency, "ecocash unavailable"))

	if !bytes.Contains(buf.Bytes(), []byte(`"error_code":"DEPENDENCY_ERROR"`)) {
		t.Fatalf("expected error_code on typed error; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"invoice_id":"inv-9"`)) {
		t.Fatalf("expected invoice_id; entry=%s", buf.String())
	}
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatJSON})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered at info level; entry=%s", buf.String())
	}

	quietWarn := New(Options{ServiceName: "test", Level: "warn", Output: buf, Format: FormatJSON})
	quietWarn.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level; entry=%s", buf.String())
	}

	verbose := New(Options{ServiceName: "test", Level: "debug", Output: buf, Format: FormatJSON})
	verbose.Debug(context.Background(), "shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("expected debug entry; entry=%s", buf.String())
	}
}
