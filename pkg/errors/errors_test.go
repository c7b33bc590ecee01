package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor_KnownCodes(t *testing.T) {
	cases := []struct {
		code       Code
		wantStatus int
		retryable  bool
	}{
		{CodeNotFound, http.StatusNotFound, false},
		{CodeConflict, http.StatusConflict, false},
		{CodeExistingSubscription, http.StatusConflict, false},
		{CodeInvalidState, http.StatusInternalServerError, false},
		{CodeDependency, http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.code, meta.HTTPStatus, tc.wantStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Errorf("%s: retryable = %t, want %t", tc.code, meta.Retryable, tc.retryable)
		}
	}
}

func TestMetadataFor_UnknownFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", meta.HTTPStatus)
	}
}

func TestAs_UnwrapsThroughChain(t *testing.T) {
	inner := New(CodeNotFound, "plan missing")
	wrapped := fmt.Errorf("outer: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("code = %s, want %s", typed.Code(), CodeNotFound)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeDependency, cause, "stripe call failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("dump code = %s", dump.Code)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("chain too short: %v", dump.Chain)
	}
}
