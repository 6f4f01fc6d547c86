package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := E(KindBlob, "storage.get", errors.New("timeout"))
	if KindOf(err) != KindBlob {
		t.Fatalf("expected blob_error, got %s", KindOf(err))
	}

	wrapped := fmt.Errorf("while processing: %w", err)
	if KindOf(wrapped) != KindBlob {
		t.Fatalf("kind must survive wrapping, got %s", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("untagged errors must classify as unknown_error")
	}
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := Ef(KindVisionBackend, "extract", "model returned %d", 502)

	if !errors.Is(err, &Error{Kind: KindVisionBackend}) {
		t.Fatalf("expected kind sentinel match")
	}
	if errors.Is(err, &Error{Kind: KindOCR}) {
		t.Fatalf("mismatched kind must not match")
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(E(KindUnsupportedType, "preprocess", nil)) {
		t.Fatalf("unsupported_type is a client error")
	}
	if !IsClientError(E(KindValidation, "extract", nil)) {
		t.Fatalf("validation_error is a client error")
	}
	if IsClientError(E(KindBlob, "storage", nil)) {
		t.Fatalf("blob_error is not a client error")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrJobNotFound) {
		t.Fatalf("job not found must satisfy IsNotFound")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", ErrWebhookNotFound)) {
		t.Fatalf("wrapped not-found must satisfy IsNotFound")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatalf("unrelated error must not satisfy IsNotFound")
	}
}
