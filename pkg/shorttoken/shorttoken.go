// Package shorttoken parses and verifies the short client tokens the
// ecosystem hands to patrons for Adobe Vendor ID activation.
//
// Token format: library|timestamp|patron_id|signature_hash
//
// Example:
//
//	NYNYPL|1621462513|3e0d6602-2446-4f1a-bcad-4e68bcffdfc1|xzu4JDv93sjAEzx1sSIxyWrXn;zXD62;vsR:LT1y8M0@
//
// The library code is any run of non-pipe characters, the timestamp is
// decimal digits, the patron id is exactly 36 characters drawn from hex
// digits and hyphens, and the signature hash is everything after the
// third pipe. Servers sometimes deliver the token wrapped in a
// <drm:clientToken> element; Decompose strips that wrapper first.
//
// Decomposition is pure. Verification against a vendor-id server is a
// separate network step: build the sign-in body with SignInRequest,
// POST it to SignInPath on the registry host, and pattern-match the
// response with FindUser.
package shorttoken

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SignInPath is the well-known vendor-id sign-in endpoint, resolved
// relative to the registry base URL.
const SignInPath = "/AdobeAuth/SignIn"

// SignInContentType is the media type of the sign-in request body.
const SignInContentType = "application/vnd.adobe.adept+xml"

const (
	wrapperOpen  = "<drm:clientToken>"
	wrapperClose = "</drm:clientToken>"
)

// ErrInvalidToken is returned by Decompose when a string does not have
// the four-field token shape. Unlike most anomalies this client
// reports, an unparseable token is fatal: nothing downstream can be
// verified without the four fields.
var ErrInvalidToken = errors.New("invalid short client token")

var tokenPattern = regexp.MustCompile(`(?i)^([^|]+)\|(\d+)\|([0-9a-f-]{36})\|(.*)$`)

var userPattern = regexp.MustCompile(`<user>([^<]+)</user>`)

// Token is a decomposed short client token.
type Token struct {
	Library       string // e.g. "NYNYPL"
	Timestamp     string // expiry, seconds since the epoch; kept as text
	PatronID      string // 36 characters of hex digits and hyphens
	SignatureHash string // opaque; everything after the third pipe
}

// Decompose splits a raw short client token into its four fields. A
// <drm:clientToken> wrapper is stripped when both its opening and
// closing tags are present. The returned error wraps ErrInvalidToken
// and carries the offending string.
func Decompose(raw string) (*Token, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, wrapperOpen) && strings.HasSuffix(s, wrapperClose) {
		s = strings.TrimSpace(s[len(wrapperOpen) : len(s)-len(wrapperClose)])
	}

	m := tokenPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
	}
	return &Token{
		Library:       m[1],
		Timestamp:     m[2],
		PatronID:      m[3],
		SignatureHash: m[4],
	}, nil
}

// Username returns the sign-in username, the first three fields
// rejoined with pipes. The signature hash is the password.
func (t *Token) Username() string {
	return t.Library + "|" + t.Timestamp + "|" + t.PatronID
}

type signInRequest struct {
	XMLName  xml.Name `xml:"http://ns.adobe.com/adept signInRequest"`
	Method   string   `xml:"method,attr"`
	Username string   `xml:"username"`
	Password string   `xml:"password"`
}

// SignInRequest renders the XML body POSTed to SignInPath to verify
// the token. Field values are XML-escaped, so signature hashes with
// markup-significant characters survive the round trip.
func (t *Token) SignInRequest() ([]byte, error) {
	body, err := xml.Marshal(signInRequest{
		Method:   "standard",
		Username: t.Username(),
		Password: t.SignatureHash,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sign-in request: %w", err)
	}
	return body, nil
}

// FindUser searches a sign-in response body for a <user> element and
// returns its text. Presence of the element is the entire success
// criterion; the id's shape is not checked any further.
func FindUser(body []byte) (string, bool) {
	m := userPattern.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}
