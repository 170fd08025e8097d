// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/samber/oops"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "gatehouse_session"

// signToken produces the cookie value "token.signature". The signature is an
// HMAC-SHA256 of the token under the configured session secret, so a client
// cannot fabricate cookie values that reach the session store.
func signToken(secret []byte, token string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	return token + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifyCookieValue splits a cookie value and checks its signature in
// constant time. Returns the embedded token on success.
func verifyCookieValue(secret []byte, value string) (string, error) {
	token, sig, found := strings.Cut(value, ".")
	if !found || token == "" || sig == "" {
		return "", oops.Code("SESSION_COOKIE_MALFORMED").Errorf("cookie value is not token.signature")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil {
		return "", oops.Code("SESSION_COOKIE_MALFORMED").Wrap(err)
	}

	if !hmac.Equal(expected, got) {
		return "", oops.Code("SESSION_COOKIE_TAMPERED").Errorf("cookie signature mismatch")
	}

	return token, nil
}
