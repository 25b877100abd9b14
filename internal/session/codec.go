package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of an access token. It is rebuilt on every
// decode and never persisted.
type Claims = jwt.MapClaims

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode returns the claims of token without verifying its signature. The
// backend verifies signatures; the client only reads what it was handed.
func Decode(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedToken, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %v", ErrMalformedToken, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedToken)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}

	return claims, nil
}

// RemainingSeconds returns the whole seconds left before the token's exp
// claim, measured from now. Undecodable tokens and tokens without exp
// count as already expired.
func RemainingSeconds(token string, now time.Time) int64 {
	claims, err := Decode(token)
	if err != nil {
		return 0
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}

	ms := exp.UnixMilli() - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}

// IsTokenExpired reports whether the token has no time left at now.
func IsTokenExpired(token string, now time.Time) bool {
	return RemainingSeconds(token, now) == 0
}

func redactToken(token string) string {
	if len(token) <= 10 {
		return "***"
	}
	return token[:10] + "..."
}
