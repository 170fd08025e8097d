// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// credentialsForm binds the register and login form bodies. The field is named
// "username" on the wire even though the value is an email address; the forms
// predate this rewrite and existing clients post that name.
type credentialsForm struct {
	Email  string `form:"username"`
	Secret string `form:"password"`
}

func (s *Server) handleHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home.tmpl", nil)
}

// handleLoginPage shows the login form, or the protected view when the
// session is already bound.
func (s *Server) handleLoginPage(c *gin.Context) {
	if identity := currentIdentity(c); identity != nil {
		c.HTML(http.StatusOK, "secrets.tmpl", gin.H{"email": identity.Email})
		return
	}
	c.HTML(http.StatusOK, "login.tmpl", nil)
}

func (s *Server) handleRegisterPage(c *gin.Context) {
	c.HTML(http.StatusOK, "register.tmpl", nil)
}

// handleSecrets gates the protected view on a bound session.
func (s *Server) handleSecrets(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.HTML(http.StatusOK, "secrets.tmpl", gin.H{"email": identity.Email})
}

// handleRegister creates an identity and binds it to the caller's session.
// A duplicate email or rejected input sends the user back to the form;
// infrastructure faults surface as 500, never as a form redirect.
func (s *Server) handleRegister(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusSeeOther, "/register")
		return
	}

	identity, err := s.service.Register(c.Request.Context(), form.Email, form.Secret)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateIdentity):
			s.countAuth("register", "duplicate")
			c.Redirect(http.StatusSeeOther, "/register")
		case auth.IsValidationError(err):
			s.countAuth("register", "rejected")
			c.Redirect(http.StatusSeeOther, "/register")
		default:
			s.countAuth("register", "error")
			errutil.LogError(s.logger, "registration failed", err)
			c.AbortWithStatus(http.StatusInternalServerError)
		}
		return
	}

	if err := s.service.Bind(c.Request.Context(), currentSession(c), identity.ID); err != nil {
		errutil.LogError(s.logger, "session bind failed", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	s.countAuth("register", "success")
	s.logger.Info("identity registered", "identity_id", identity.ID.String())
	c.Redirect(http.StatusSeeOther, "/secrets")
}

// handleLogin validates credentials and binds the session on success.
func (s *Server) handleLogin(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	identity, err := s.service.Login(c.Request.Context(), form.Email, form.Secret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.countAuth("login", "invalid")
			c.Redirect(http.StatusSeeOther, "/login")
			return
		}
		s.countAuth("login", "error")
		errutil.LogError(s.logger, "login failed", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if err := s.service.Bind(c.Request.Context(), currentSession(c), identity.ID); err != nil {
		errutil.LogError(s.logger, "session bind failed", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	s.countAuth("login", "success")
	s.logger.Info("login succeeded", "identity_id", identity.ID.String())
	c.Redirect(http.StatusSeeOther, "/secrets")
}

func (s *Server) countAuth(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.AuthAttemptsTotal.WithLabelValues(operation, outcome).Inc()
	}
}
