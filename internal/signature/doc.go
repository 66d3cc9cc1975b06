// Package signature implements the authenticated request envelope shared by
// every call between the cloud hub and in-home relays.
//
// Each request carries four headers: an API key identifying the principal,
// a millisecond UNIX timestamp, a protocol version, and a base64 HMAC-SHA256
// signature over a canonical string derived from the request. The canonical
// string is:
//
//	METHOD:PATH:apiKey[:token]:timestamp:version
//
// The token element is included once a bearer token has been issued for the
// principal. Both sides compute the HMAC with the principal's shared secret;
// the receiving side compares in constant time.
package signature
