package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMask(t *testing.T) {
	cases := []struct {
		secret string
		want   string
	}{
		{"refresh-token-abc123", "***c123"},
		{"12345", "***2345"},
		{"1234", "****"},
		{"ab", "****"},
		{"", "****"},
	}

	for _, tc := range cases {
		if got := Mask(tc.secret); got != tc.want {
			t.Fatalf("Mask(%q) = %q, want %q", tc.secret, got, tc.want)
		}
	}
}

func TestMaskNeverContainsSecretPrefix(t *testing.T) {
	secret := "very-long-refresh-token-value"
	masked := Mask(secret)

	if strings.Contains(masked, secret[:len(secret)-4]) {
		t.Fatalf("masked value %q leaks the secret", masked)
	}
}

func TestUnauthorizedClassification(t *testing.T) {
	err := Unauthorized(401, "exchanging tokens", "refresh-token-abc123")

	if !IsUnauthorized(err) {
		t.Fatal("expected unauthorized classification")
	}
	if IsUnavailable(err) {
		t.Fatal("unauthorized error must not classify as unavailable")
	}
	if IsFromCache(err) {
		t.Fatal("fresh rejection must not be tagged from cache")
	}
	if StatusCode(err) != 401 {
		t.Fatalf("status code = %d, want 401", StatusCode(err))
	}
	if strings.Contains(err.Error(), "refresh-token-abc123") {
		t.Fatalf("error message leaks the credential: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "***c123") {
		t.Fatalf("error message missing masked credential: %q", err.Error())
	}
}

func TestCachedClassification(t *testing.T) {
	err := Cached(403, "refresh-token-abc123")

	if !IsUnauthorized(err) {
		t.Fatal("cached rejection must still classify as unauthorized")
	}
	if !IsFromCache(err) {
		t.Fatal("expected from-cache tag")
	}
	if StatusCode(err) != 403 {
		t.Fatalf("status code = %d, want 403", StatusCode(err))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUnavailable, "exchanging tokens: portal unreachable", cause)

	if !IsUnavailable(err) {
		t.Fatal("expected unavailable classification")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := Unauthorized(401, "retrieving user information", "tok-12345")
	outer := fmt.Errorf("resolve failed: %w", inner)

	if !IsCode(outer, CodeUnauthorized) {
		t.Fatal("expected classification to survive fmt wrapping")
	}
	if IsCode(nil, CodeUnauthorized) {
		t.Fatal("nil error must not classify")
	}
	if IsCode(errors.New("plain"), CodeUnauthorized) {
		t.Fatal("plain error must not classify")
	}
}

func TestIsRejectionStatus(t *testing.T) {
	for _, status := range []int{401, 403} {
		if !IsRejectionStatus(status) {
			t.Fatalf("expected %d to be a rejection status", status)
		}
	}
	for _, status := range []int{200, 400, 404, 500, 503} {
		if IsRejectionStatus(status) {
			t.Fatalf("expected %d not to be a rejection status", status)
		}
	}
}
