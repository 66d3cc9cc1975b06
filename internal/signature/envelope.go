package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Envelope header names. Every hub endpoint requires all four.
const (
	HeaderAPIKey    = "x-imaginary-api-key"
	HeaderTimestamp = "x-imaginary-timestamp"
	HeaderSignature = "x-imaginary-signature"
	HeaderVersion   = "x-imaginary-version"

	// HeaderHasCommands is the response header carrying the pending-command
	// indicator on relay update and command fetch responses.
	HeaderHasCommands = "x-imaginary-has-commands"
)

// RequiredVersion is the protocol version this build signs requests with.
const RequiredVersion = "1.0"

// AdvertisedVersions lists every protocol version the hub accepts in addition
// to the required version. Ordered oldest to newest.
var AdvertisedVersions = []string{"1.0"}

// Credentials identifies a principal for signing.
//
// APIKey is the principal identifier sent in the clear (a user key, a relay
// id, or a pairing code during the pairing claim). Secret is the shared HMAC
// secret. Token is the rotating bearer token; empty until one has been issued.
type Credentials struct {
	APIKey string
	Secret string
	Token  string
}

// Header is the parsed set of envelope headers from an incoming request.
type Header struct {
	APIKey    string
	Timestamp string
	Signature string
	Version   string
}

// canonical builds the string the HMAC is computed over.
// Format: METHOD:PATH:apiKey[:token]:timestamp:version
func canonical(method, path, apiKey, token, timestamp, version string) string {
	parts := []string{method, path, apiKey}
	if token != "" {
		parts = append(parts, token)
	}
	parts = append(parts, timestamp, version)
	return strings.Join(parts, ":")
}

// Compute returns the base64 HMAC-SHA256 signature over the canonical string.
func Compute(secret, method, path, apiKey, token, timestamp, version string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical(method, path, apiKey, token, timestamp, version)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign stamps the four envelope headers onto an outgoing request.
//
// The timestamp is the current time in milliseconds and the version is
// RequiredVersion. The token element is included in the canonical string only
// when creds.Token is set.
func Sign(r *http.Request, creds Credentials) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := Compute(creds.Secret, r.Method, r.URL.Path, creds.APIKey, creds.Token, timestamp, RequiredVersion)

	r.Header.Set(HeaderAPIKey, creds.APIKey)
	r.Header.Set(HeaderTimestamp, timestamp)
	r.Header.Set(HeaderSignature, sig)
	r.Header.Set(HeaderVersion, RequiredVersion)
}

// ParseHeader extracts the envelope headers from an incoming request.
//
// Returns ErrMissingHeader if any of the four headers is absent or the
// signature is empty.
func ParseHeader(r *http.Request) (Header, error) {
	h := Header{
		APIKey:    r.Header.Get(HeaderAPIKey),
		Timestamp: r.Header.Get(HeaderTimestamp),
		Signature: r.Header.Get(HeaderSignature),
		Version:   r.Header.Get(HeaderVersion),
	}
	if h.APIKey == "" || h.Timestamp == "" || h.Signature == "" || h.Version == "" {
		return Header{}, ErrMissingHeader
	}
	return h, nil
}

// Verify recomputes the HMAC over the canonical string and compares it against
// the signature carried in the envelope headers.
//
// The comparison is constant-time. The token parameter must be the bearer
// token currently on record for the principal ("" if none has been issued).
//
// Returns:
//   - ErrVersionUnsupported if the request version is not acceptable
//   - ErrBadSignature if the recomputed HMAC does not match
func Verify(method, path string, h Header, secret, token string) error {
	if !VersionAccepted(h.Version) {
		return ErrVersionUnsupported
	}

	expected := Compute(secret, method, path, h.APIKey, token, h.Timestamp, h.Version)
	if !hmac.Equal([]byte(expected), []byte(h.Signature)) {
		return ErrBadSignature
	}
	return nil
}

// VersionAccepted reports whether a request version is acceptable: an exact
// match of the required version, or any advertised version.
func VersionAccepted(version string) bool {
	if version == RequiredVersion {
		return true
	}
	for _, v := range AdvertisedVersions {
		if version == v {
			return true
		}
	}
	return false
}
