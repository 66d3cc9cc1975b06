package signature

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signedRequest(t *testing.T, method, path string, creds Credentials) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, path, nil)
	Sign(r, creds)
	return r
}

func TestSignVerifyRoundTrip(t *testing.T) {
	creds := Credentials{APIKey: "relay-1", Secret: "s3cret"}
	r := signedRequest(t, http.MethodPut, "/relay/relay-1", creds)

	h, err := ParseHeader(r)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if err := Verify(r.Method, r.URL.Path, h, creds.Secret, ""); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestSignVerifyWithToken(t *testing.T) {
	creds := Credentials{APIKey: "relay-1", Secret: "s3cret", Token: "bearer-abc"}
	r := signedRequest(t, http.MethodPut, "/relay/relay-1", creds)

	h, err := ParseHeader(r)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	// Verifying against the issued token succeeds.
	if err := Verify(r.Method, r.URL.Path, h, creds.Secret, creds.Token); err != nil {
		t.Fatalf("Verify with token: %v", err)
	}

	// Verifying without the token element fails.
	if err := Verify(r.Method, r.URL.Path, h, creds.Secret, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature without token, got %v", err)
	}
}

func TestVerifyRejectsMutation(t *testing.T) {
	creds := Credentials{APIKey: "relay-1", Secret: "s3cret"}
	r := signedRequest(t, http.MethodGet, "/relay/relay-1/commands", creds)
	h, err := ParseHeader(r)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(h Header) (method, path, secret string, out Header)
	}{
		{"method", func(h Header) (string, string, string, Header) {
			return http.MethodPost, r.URL.Path, creds.Secret, h
		}},
		{"path", func(h Header) (string, string, string, Header) {
			return r.Method, "/relay/relay-2/commands", creds.Secret, h
		}},
		{"secret", func(h Header) (string, string, string, Header) {
			return r.Method, r.URL.Path, "s3creT", h
		}},
		{"timestamp", func(h Header) (string, string, string, Header) {
			h.Timestamp = h.Timestamp + "0"
			return r.Method, r.URL.Path, creds.Secret, h
		}},
		{"api key", func(h Header) (string, string, string, Header) {
			h.APIKey = "relay-2"
			return r.Method, r.URL.Path, creds.Secret, h
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method, path, secret, mutated := tc.mutate(h)
			if err := Verify(method, path, mutated, secret, ""); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("expected ErrBadSignature, got %v", err)
			}
		})
	}
}

func TestParseHeaderMissing(t *testing.T) {
	creds := Credentials{APIKey: "relay-1", Secret: "s3cret"}

	for _, header := range []string{HeaderAPIKey, HeaderTimestamp, HeaderSignature, HeaderVersion} {
		r := signedRequest(t, http.MethodGet, "/relay/relay-1/commands", creds)
		r.Header.Del(header)
		if _, err := ParseHeader(r); !errors.Is(err, ErrMissingHeader) {
			t.Errorf("missing %s: expected ErrMissingHeader, got %v", header, err)
		}
	}
}

func TestVersionAccepted(t *testing.T) {
	if !VersionAccepted(RequiredVersion) {
		t.Error("required version should be accepted")
	}
	if VersionAccepted("0.9") {
		t.Error("unknown version should be rejected")
	}

	creds := Credentials{APIKey: "relay-1", Secret: "s3cret"}
	r := signedRequest(t, http.MethodGet, "/x", creds)
	h, _ := ParseHeader(r)
	h.Version = "99.0"
	if err := Verify(r.Method, r.URL.Path, h, creds.Secret, ""); !errors.Is(err, ErrVersionUnsupported) {
		t.Fatalf("expected ErrVersionUnsupported, got %v", err)
	}
}
