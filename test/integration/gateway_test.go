// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
)

// testEnv holds all the resources needed for gateway integration tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	service   *auth.Service
	server    *web.Server
	baseURL   string
}

// setupTestEnv starts PostgreSQL, runs migrations, and boots the gateway
// on an ephemeral port with the given session lifetime.
func setupTestEnv(lifetime time.Duration) (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gatehouse_test"),
		tcpostgres.WithUsername("gatehouse"),
		tcpostgres.WithPassword("gatehouse"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.service, err = auth.NewServiceWithLogger(
		authpg.NewIdentityRepository(env.pool),
		authpg.NewSessionRepository(env.pool),
		auth.NewArgon2idHasher(),
		lifetime,
		logger,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.server, err = web.NewServer("127.0.0.1:0", env.service, "integration-secret", nil, logger)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if _, err := env.server.Start(); err != nil {
		env.cleanup()
		return nil, err
	}
	env.baseURL = "http://" + env.server.Addr()

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.server != nil {
		_ = env.server.Stop(ctx)
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// newBrowser returns a client with its own cookie jar that does not
// follow redirects, so Location headers can be asserted directly.
func newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(client *http.Client, rawURL string) *http.Response {
	resp, err := client.Get(rawURL)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func postCredentials(client *http.Client, rawURL, email, password string) *http.Response {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	resp, err := client.PostForm(rawURL, form)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func readBody(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

func sessionCookieFor(client *http.Client, baseURL string) string {
	u, err := url.Parse(baseURL)
	Expect(err).NotTo(HaveOccurred())
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == web.SessionCookieName {
			return c.Value
		}
	}
	return ""
}

var _ = Describe("Gateway", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv(time.Hour)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("Anonymous browsing", func() {
		It("serves the landing page and issues a session cookie", func() {
			browser := newBrowser()

			resp := get(browser, env.baseURL+"/")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring("Gatehouse"))

			cookie := sessionCookieFor(browser, env.baseURL)
			Expect(cookie).NotTo(BeEmpty())
			Expect(cookie).To(ContainSubstring("."))
		})

		It("gates the secrets page behind authentication", func() {
			browser := newBrowser()

			resp := get(browser, env.baseURL+"/secrets")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal("/login"))
		})
	})

	Describe("Registration", func() {
		It("registers a visitor and reaches the secrets page", func() {
			browser := newBrowser()
			readBody(get(browser, env.baseURL+"/"))
			cookieBefore := sessionCookieFor(browser, env.baseURL)

			resp := postCredentials(browser, env.baseURL+"/register", "alice@example.com", "password123")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/secrets"))

			By("keeping the same session token across the bind")
			Expect(sessionCookieFor(browser, env.baseURL)).To(Equal(cookieBefore))

			secrets := get(browser, env.baseURL+"/secrets")
			Expect(secrets.StatusCode).To(Equal(http.StatusOK))
			body := readBody(secrets)
			Expect(body).To(ContainSubstring("alice@example.com"))
			Expect(body).To(ContainSubstring("Jack Bauer"))
		})

		It("rejects a duplicate email", func() {
			first := newBrowser()
			readBody(postCredentials(first, env.baseURL+"/register", "taken@example.com", "password123"))

			second := newBrowser()
			resp := postCredentials(second, env.baseURL+"/register", "taken@example.com", "otherpassword")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/register"))

			By("leaving the second browser unauthenticated")
			gate := get(second, env.baseURL+"/secrets")
			defer gate.Body.Close()
			Expect(gate.StatusCode).To(Equal(http.StatusFound))
		})
	})

	Describe("Login", func() {
		BeforeEach(func() {
			_, err := env.service.Register(env.ctx, "bob@example.com", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
		})

		It("logs in from a fresh browser", func() {
			browser := newBrowser()

			resp := postCredentials(browser, env.baseURL+"/login", "bob@example.com", "correct-horse")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/secrets"))

			secrets := get(browser, env.baseURL+"/secrets")
			Expect(secrets.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(secrets)).To(ContainSubstring("bob@example.com"))
		})

		It("bounces wrong credentials back to the form", func() {
			browser := newBrowser()

			resp := postCredentials(browser, env.baseURL+"/login", "bob@example.com", "wrong-horse")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/login"))

			gate := get(browser, env.baseURL+"/secrets")
			defer gate.Body.Close()
			Expect(gate.StatusCode).To(Equal(http.StatusFound))
		})

		It("shows the secrets view on the login page once authenticated", func() {
			browser := newBrowser()
			readBody(postCredentials(browser, env.baseURL+"/login", "bob@example.com", "correct-horse"))

			resp := get(browser, env.baseURL+"/login")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring("bob@example.com"))
		})

		It("supports two browsers with independent sessions", func() {
			first := newBrowser()
			readBody(postCredentials(first, env.baseURL+"/login", "bob@example.com", "correct-horse"))

			second := newBrowser()
			gate := get(second, env.baseURL+"/secrets")
			defer gate.Body.Close()
			Expect(gate.StatusCode).To(Equal(http.StatusFound), "second browser starts anonymous")

			readBody(postCredentials(second, env.baseURL+"/login", "bob@example.com", "correct-horse"))

			Expect(sessionCookieFor(first, env.baseURL)).NotTo(Equal(sessionCookieFor(second, env.baseURL)))

			for _, browser := range []*http.Client{first, second} {
				secrets := get(browser, env.baseURL+"/secrets")
				Expect(secrets.StatusCode).To(Equal(http.StatusOK))
				readBody(secrets)
			}
		})
	})
})

var _ = Describe("Session expiry", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv(time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	It("treats an expired session as anonymous and sweeps it", func() {
		browser := newBrowser()
		readBody(postCredentials(browser, env.baseURL+"/register", "shortlived@example.com", "password123"))

		secrets := get(browser, env.baseURL+"/secrets")
		Expect(secrets.StatusCode).To(Equal(http.StatusOK))
		readBody(secrets)

		time.Sleep(1500 * time.Millisecond)

		By("sweeping the expired row")
		deleted, err := env.service.SweepExpired(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeNumerically(">=", 1))

		By("gating the stale cookie")
		gate := get(browser, env.baseURL+"/secrets")
		defer gate.Body.Close()
		Expect(gate.StatusCode).To(Equal(http.StatusFound))
		Expect(gate.Header.Get("Location")).To(Equal("/login"))
	})
})
