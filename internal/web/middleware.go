// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// Context keys for the resolved session state.
const (
	ctxKeySession  = "web.session"
	ctxKeyIdentity = "web.identity"
)

// sessionMiddleware resolves the session cookie on every request. A request
// without a live session gets a fresh anonymous shell and a new cookie, so
// the token the client holds is stable before login ever happens. Store
// failures abort the request; they are never downgraded to "anonymous".
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if value, err := c.Cookie(SessionCookieName); err == nil {
			// A malformed or tampered cookie is treated like no cookie
			// at all; the client just gets a fresh shell.
			if t, verifyErr := verifyCookieValue(s.secret, value); verifyErr == nil {
				token = t
			}
		}

		var session *auth.Session
		var identity *auth.Identity

		if token != "" {
			var err error
			session, identity, err = s.service.Resolve(c.Request.Context(), token)
			if err != nil {
				errutil.LogError(s.logger, "session resolve failed", err)
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
		}

		if session == nil {
			var err error
			session, token, err = s.service.StartSession(c.Request.Context(), nil)
			if err != nil {
				errutil.LogError(s.logger, "session start failed", err)
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			s.setSessionCookie(c, token)
			if s.metrics != nil {
				s.metrics.SessionsCreatedTotal.WithLabelValues("anonymous").Inc()
			}
		}

		c.Set(ctxKeySession, session)
		if identity != nil {
			c.Set(ctxKeyIdentity, identity)
		}
		c.Next()
	}
}

// setSessionCookie writes the signed session cookie. Attributes follow the
// previous deployment: fixed max age, HttpOnly, Lax, not Secure by default.
func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		SessionCookieName,
		signToken(s.secret, token),
		int(s.service.SessionLifetime().Seconds()),
		"/",
		"",    // host-only cookie
		false, // not Secure: TLS terminates upstream when deployed
		true,  // HttpOnly
	)
}

// currentSession returns the session the middleware resolved.
func currentSession(c *gin.Context) *auth.Session {
	if v, ok := c.Get(ctxKeySession); ok {
		if session, ok := v.(*auth.Session); ok {
			return session
		}
	}
	return nil
}

// currentIdentity returns the authenticated identity, or nil when anonymous.
func currentIdentity(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(ctxKeyIdentity); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return nil
}
