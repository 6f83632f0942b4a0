package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	meta := MetadataFor(CodeQuotaExceeded)
	if meta.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for quota exceeded, got %d", meta.HTTPStatus)
	}
	if meta.Retryable {
		t.Fatal("quota exceeded must not be retryable")
	}

	meta = MetadataFor(CodeAlreadyCancelled)
	if meta.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409 for already cancelled, got %d", meta.HTTPStatus)
	}

	meta = MetadataFor(CodeConcurrencyTimeout)
	if !meta.Retryable {
		t.Fatal("concurrency timeout must be retryable")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeDependency, cause, "redis down")

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to satisfy errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsUnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(CodeNotFound, "entry missing")
	outer := fmt.Errorf("looking up entry: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through wrap chain")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeIntegrityViolation, "chain hash mismatch")
	if !IsCode(err, CodeIntegrityViolation) {
		t.Fatal("expected IsCode match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatal("unexpected IsCode match")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatal("nil error should never match")
	}
}
