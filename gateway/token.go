package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Token is a bearer token and the instant it stops being usable. A zero
// Expiry never expires. Tokens live in memory only.
type Token struct {
	Value  string
	Expiry time.Time
}

// Valid reports whether t can be used at now.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// TokenManager caches a client-credentials access token and refreshes it
// once it has expired. Concurrent callers share a single refresh.
type TokenManager struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu    sync.Mutex
	token Token

	refresh singleflight.Group
}

// NewTokenManager creates a manager that exchanges credentials at
// {authURL}/connect/token.
func NewTokenManager(authURL, clientID, clientSecret string, httpClient *http.Client, now func() time.Time, logger *slog.Logger) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     strings.TrimRight(authURL, "/") + "/connect/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		now:        now,
		logger:     logger,
	}
}

// Token returns the cached token, fetching a new one when none is held or
// the held one has expired.
func (m *TokenManager) Token(ctx context.Context) (Token, error) {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()

	if tok.Valid(m.now()) {
		return tok, nil
	}

	v, err, _ := m.refresh.Do("token", func() (any, error) {
		// A refresh may have landed between the check above and joining.
		m.mu.Lock()
		cached := m.token
		m.mu.Unlock()
		if cached.Valid(m.now()) {
			return cached, nil
		}
		return m.fetch(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = Token{}
	m.mu.Unlock()
}

func (m *TokenManager) fetch(ctx context.Context) (Token, error) {
	m.logger.Debug("gateway: refreshing access token")

	issued := m.now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	raw, err := m.cfg.Token(ctx)
	if err != nil {
		m.logger.Error("gateway: failed to obtain access token", "error", err)
		return Token{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	tok := Token{Value: raw.AccessToken}
	if secs, ok := expiresIn(raw); ok {
		tok.Expiry = issued.Add(time.Duration(secs) * time.Second)
	} else {
		tok.Expiry = raw.Expiry
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.logger.Info("gateway: access token obtained", "expires_at", tok.Expiry)
	return tok, nil
}

// expiresIn reads the lifetime in seconds from the raw token response.
func expiresIn(t *oauth2.Token) (int64, bool) {
	switch v := t.Extra("expires_in").(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
