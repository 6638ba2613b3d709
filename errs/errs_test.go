package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndMetadata(t *testing.T) {
	err := New(
		"gateway/submit-rating",
		CodeValidation,
		WithHTTP(422),
		WithMessage("stars must be between 1 and 5"),
		WithCanonicalCode(CanonicalSubmissionFailed),
		WithField("item", "42"),
		WithField("endpoint", "/ratings"),
		WithCause(errors.New("http 422")),
	)

	out := err.Error()
	if !strings.Contains(out, "op=gateway/submit-rating") {
		t.Fatalf("expected op marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=validation") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=submission_failed") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, "http=422") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	expectedMeta := "meta=endpoint=\"/ratings\",item=\"42\""
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, "cause=\"http 422\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("cache", CodeInvalid, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestIsCanonicalWalksWrappedEnvelopes(t *testing.T) {
	inner := New("gateway/list-menu", CodeNetwork, WithMessage("connection refused"))
	outer := New("menucache/build", CodeUnavailable,
		WithCanonicalCode(CanonicalListFetchFailed),
		WithCause(inner))
	wrapped := fmt.Errorf("select category: %w", outer)

	if !IsCanonical(wrapped, CanonicalListFetchFailed) {
		t.Fatalf("expected list_fetch_failed to be detected through fmt wrapping")
	}
	if IsCanonical(wrapped, CanonicalSubmissionFailed) {
		t.Fatalf("unexpected submission_failed match")
	}
	if IsCanonical(errors.New("plain"), CanonicalListFetchFailed) {
		t.Fatalf("plain errors never carry canonical codes")
	}
}

func TestUserMessagePrefersOutermostMessage(t *testing.T) {
	inner := New("gateway/submit-rating", CodeValidation, WithMessage("Menu and stars are required."))
	outer := New("menucache/submit", CodeValidation, WithCause(inner))
	if got := UserMessage(outer); got != "Menu and stars are required." {
		t.Fatalf("expected inner message, got %q", got)
	}
	if got := UserMessage(errors.New("plain")); got != "" {
		t.Fatalf("expected empty message for plain error, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
