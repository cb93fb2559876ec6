// Package auth resolves caller credentials from request headers, masks them
// for display, and checks them against the CSV allow-list.
package auth

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

const (
	bearerPrefix  = "bearer "
	maskedSuffix  = 6
	headerAPIKey  = "X-Api-Key"
	headerAuthKey = "Authorization"
)

// ErrNoKey is returned when a request carries no usable API key.
var ErrNoKey = errors.New("auth: no api key in request")

var sigV4Credential = regexp.MustCompile(`(?i)^AWS4-HMAC-SHA256\s+Credential=([^/,\s]+)/`)

// MaskCredential returns a short display form of the caller's credential:
// the trailing six characters of the raw key, or the whole key when shorter.
func MaskCredential(authorization, apiKey string) string {
	raw := []rune(rawCredential(authorization, apiKey))
	if len(raw) <= maskedSuffix {
		return string(raw)
	}
	return string(raw[len(raw)-maskedSuffix:])
}

// rawCredential prefers the Authorization header and falls back to the
// X-Api-Key header.
func rawCredential(authorization, apiKey string) string {
	if authorization != "" {
		if hasBearerPrefix(authorization) {
			return strings.TrimSpace(authorization[len(bearerPrefix):])
		}
		return authorization
	}
	return apiKey
}

func hasBearerPrefix(value string) bool {
	return len(value) >= len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix)
}

// ExtractKey returns the API key a request authenticates with. The first
// match wins: a Bearer token, the access key id of an AWS SigV4 signature,
// then the X-Api-Key header.
func ExtractKey(h http.Header) (string, error) {
	if authorization := h.Get(headerAuthKey); authorization != "" {
		if hasBearerPrefix(authorization) {
			if token := strings.TrimSpace(authorization[len(bearerPrefix):]); token != "" {
				return token, nil
			}
			return "", ErrNoKey
		}
		if m := sigV4Credential.FindStringSubmatch(authorization); m != nil {
			return m[1], nil
		}
	}
	if key := strings.TrimSpace(h.Get(headerAPIKey)); key != "" {
		return key, nil
	}
	return "", ErrNoKey
}
