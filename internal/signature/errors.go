package signature

import "errors"

// Domain errors for the signature package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, signature.ErrBadSignature) {
//	    // reject the request
//	}
var (
	// ErrMissingHeader is returned when any of the four envelope headers is absent.
	ErrMissingHeader = errors.New("signature: missing envelope header")

	// ErrBadSignature is returned when the recomputed HMAC does not match.
	ErrBadSignature = errors.New("signature: signature mismatch")

	// ErrVersionUnsupported is returned when the request version is neither the
	// required version nor one of the advertised versions.
	ErrVersionUnsupported = errors.New("signature: unsupported protocol version")

	// ErrUnknownPrincipal is returned when no secret can be resolved for the API key.
	ErrUnknownPrincipal = errors.New("signature: unknown principal")
)
