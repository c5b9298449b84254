package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusForEveryCode(t *testing.T) {
	want := map[Code]int{
		CodeValidation:    http.StatusBadRequest,
		CodeUnauthorized:  http.StatusUnauthorized,
		CodeForbidden:     http.StatusForbidden,
		CodeNotFound:      http.StatusNotFound,
		CodeConflict:      http.StatusConflict,
		CodeStateConflict: http.StatusUnprocessableEntity,
		CodeIdempotency:   http.StatusConflict,
		CodeRateLimit:     http.StatusTooManyRequests,
		CodeInternal:      http.StatusInternalServerError,
		CodeDependency:    http.StatusServiceUnavailable,
		CodeIntegrity:     http.StatusConflict,
	}
	if len(want) != len(metadataByCode) {
		t.Fatalf("metadata table has %d codes, test covers %d", len(metadataByCode), len(want))
	}
	for code, status := range want {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Fatalf("%s: expected status %d, got %d", code, status, got)
		}
	}
}

func TestOnlyServerSideFailuresAreRetryable(t *testing.T) {
	for code, meta := range metadataByCode {
		serverSide := meta.HTTPStatus >= http.StatusInternalServerError
		if meta.Retryable != serverSide {
			t.Fatalf("%s: retryable=%v but status %d", code, meta.Retryable, meta.HTTPStatus)
		}
	}
}

func TestClientFacingMessagesHideAuthDetails(t *testing.T) {
	for _, code := range []Code{CodeUnauthorized, CodeForbidden, CodeNotFound, CodeInternal} {
		if MetadataFor(code).DetailsAllowed {
			t.Fatalf("%s must not expose details", code)
		}
	}
	if !MetadataFor(CodeIntegrity).DetailsAllowed {
		t.Fatal("integrity violations should carry the break location")
	}
}

func TestUnknownCodeFallsBackToInternal(t *testing.T) {
	if got := MetadataFor("SOMETHING_UNKNOWN"); got != metadataByCode[CodeInternal] {
		t.Fatalf("expected internal metadata, got %+v", got)
	}
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeDependency, cause, "issue credential").WithDetails(map[string]any{"provider": "vc"})

	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped error lost its cause")
	}
	if err.Code() != CodeDependency || err.Message() != "issue credential" {
		t.Fatalf("unexpected code/message %s/%q", err.Code(), err.Message())
	}
	if err.Details() == nil {
		t.Fatal("details should be kept")
	}
	if got := err.Error(); got != "DEPENDENCY_ERROR: issue credential" {
		t.Fatalf("unexpected error string %q", got)
	}
	if New(CodeValidation, "x").Details() != nil {
		t.Fatal("details should default to nil")
	}
}

func TestIsAndAsLookThroughWrapping(t *testing.T) {
	inner := New(CodeIntegrity, "chain halted")
	outer := fmt.Errorf("append: %w", inner)

	if !Is(outer, CodeIntegrity) || Is(outer, CodeConflict) {
		t.Fatal("Is should match only the typed code")
	}
	if As(outer) != inner {
		t.Fatal("As should return the typed error")
	}
	if As(nil) != nil || Is(stdErrors.New("plain"), CodeInternal) {
		t.Fatal("untyped errors carry no code")
	}
}
