package apperr

import (
	"fmt"
	"testing"
)

func TestNew_RetryableDerivedFromCode(t *testing.T) {
	e := New(FetchFailed, "dial tcp timeout", "retry with a longer timeout_ms")
	if !e.Retryable {
		t.Fatalf("expected fetch_failed to be retryable")
	}
	e2 := New(InvalidURL, "bad scheme", "")
	if e2.Retryable {
		t.Fatalf("expected invalid_url to not be retryable")
	}
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	e := New(NotSupported, "cache miss in offline mode", "warm the cache first")
	if e.Error() != "not_supported: cache miss in offline mode" {
		t.Fatalf("unexpected error string: %q", e.Error())
	}
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	if Wrap(CacheError, nil, "") != nil {
		t.Fatalf("expected Wrap(nil) to return nil")
	}
}

func TestAs_RoundTrips(t *testing.T) {
	var err error = New(SearchFailed, "all providers failed", "")
	ae, ok := As(err)
	if !ok || ae.Code != SearchFailed {
		t.Fatalf("expected As to recover the *Error, got %+v ok=%v", ae, ok)
	}
}

func TestFromError_ClassifiesKnownPrefix(t *testing.T) {
	err := fmt.Errorf("not_supported: unknown provider %q", "acme")
	ae := FromError(err, "")
	if ae.Code != NotSupported {
		t.Fatalf("expected not_supported, got %q", ae.Code)
	}
	if ae.Message != `unknown provider "acme"` {
		t.Fatalf("unexpected message: %q", ae.Message)
	}
}

func TestFromError_UnknownPrefixFallsBackToUnexpected(t *testing.T) {
	ae := FromError(fmt.Errorf("dial tcp: connection refused"), "")
	if ae.Code != UnexpectedError {
		t.Fatalf("expected unexpected_error, got %q", ae.Code)
	}
}

func TestFromError_PassesThroughExistingError(t *testing.T) {
	var err error = New(FetchFailed, "timeout", "retry")
	if FromError(err, "ignored") != err {
		t.Fatalf("expected FromError to return the same *Error unchanged")
	}
}

func TestFromError_NilReturnsNil(t *testing.T) {
	if FromError(nil, "") != nil {
		t.Fatalf("expected nil in, nil out")
	}
}
