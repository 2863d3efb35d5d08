/*
Copyright 2024 The nightly.link authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/njzydark/nightly.link/cache"
)

const (
	// appJWTValidity is the validity GitHub grants a signed app assertion.
	appJWTValidity = 10 * time.Minute
	// appJWTTTL is how long a signed assertion is cached. The one minute
	// margin absorbs clock skew between this process and the authority.
	appJWTTTL = 9 * time.Minute
	// installationTokenTTL is how long an exchanged installation token is
	// cached. GitHub issues them valid for an hour; the five minute margin
	// mirrors the assertion margin.
	installationTokenTTL = 55 * time.Minute
)

// defaultTokenPermissions is the restricted scope requested on token
// exchange. Resolving artifact downloads needs nothing more.
var defaultTokenPermissions = map[string]string{"actions": "read"}

// AppAuth mints and refreshes the two tiers of short-lived credentials a
// GitHub App works with: the signed app assertion and the installation
// token exchanged for it. Each tier is held in its own expiring cache, so
// repeated calls within a credential's cached lifetime cost no signing
// and no network. Mint failures are never cached and propagate unchanged.
type AppAuth struct {
	appID       int64
	rsaKey      *rsa.PrivateKey
	transport   *Transport
	permissions map[string]string

	assertions *cache.Expiring[AppJWT]
	tokens     *cache.Expiring[InstallationToken]
}

// AppAuthOption configures an AppAuth.
type AppAuthOption func(*appAuthConfig)

type appAuthConfig struct {
	appID       int64
	privateKey  []byte
	transport   *Transport
	permissions map[string]string
	cacheOpts   []cache.Options
}

// WithAppID sets the numeric identity of the GitHub App.
func WithAppID(appID int64) AppAuthOption {
	return func(c *appAuthConfig) {
		c.appID = appID
	}
}

// WithPrivateKey sets the PEM-encoded RSA key of the GitHub App.
func WithPrivateKey(privateKey []byte) AppAuthOption {
	return func(c *appAuthConfig) {
		c.privateKey = privateKey
	}
}

// WithTransport sets the transport used for the token exchange.
func WithTransport(transport *Transport) AppAuthOption {
	return func(c *appAuthConfig) {
		c.transport = transport
	}
}

// WithTokenPermissions overrides the permission scope requested when
// exchanging an assertion for an installation token.
func WithTokenPermissions(permissions map[string]string) AppAuthOption {
	return func(c *appAuthConfig) {
		c.permissions = permissions
	}
}

// WithCacheOptions passes options through to the two credential caches,
// e.g. a metrics registerer or a custom cleanup interval.
func WithCacheOptions(opts ...cache.Options) AppAuthOption {
	return func(c *appAuthConfig) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// NewAppAuth returns a credential manager for the given GitHub App.
func NewAppAuth(opts ...AppAuthOption) (*AppAuth, error) {
	var cfg appAuthConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.appID == 0 {
		return nil, fmt.Errorf("app ID must be provided to use github app authentication")
	}
	if len(cfg.privateKey) == 0 {
		return nil, fmt.Errorf("private key must be provided to use github app authentication")
	}
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.privateKey)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}

	if cfg.transport == nil {
		cfg.transport = NewTransport()
	}
	if cfg.permissions == nil {
		cfg.permissions = defaultTokenPermissions
	}

	assertions, err := cache.NewExpiring[AppJWT](cfg.cacheOpts...)
	if err != nil {
		return nil, err
	}
	tokens, err := cache.NewExpiring[InstallationToken](cfg.cacheOpts...)
	if err != nil {
		return nil, err
	}

	return &AppAuth{
		appID:       cfg.appID,
		rsaKey:      rsaKey,
		transport:   cfg.transport,
		permissions: cfg.permissions,
		assertions:  assertions,
		tokens:      tokens,
	}, nil
}

// Close releases the credential caches.
func (a *AppAuth) Close() error {
	if err := a.assertions.Close(); err != nil {
		return err
	}
	return a.tokens.Close()
}

type refreshConfig struct {
	force bool
}

// RefreshOption configures a credential lookup.
type RefreshOption func(*refreshConfig)

// ForceRefresh bypasses a live cached credential and always mints a new
// one, replacing the cached entry. Callers use this after the authority
// rejected a previously cached credential.
func ForceRefresh() RefreshOption {
	return func(c *refreshConfig) {
		c.force = true
	}
}

// JWT returns a signed app assertion, minting one if the cache holds no
// live value for this app.
func (a *AppAuth) JWT(opts ...RefreshOption) (AppJWT, error) {
	var cfg refreshConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key := strconv.FormatInt(a.appID, 10)
	if cfg.force {
		assertion, err := a.signAssertion()
		if err != nil {
			return "", err
		}
		return a.assertions.Write(key, assertion, appJWTTTL)
	}
	return a.assertions.Fetch(key, appJWTTTL, a.signAssertion)
}

// InstallationToken returns a bearer token scoped to the given
// installation, exchanging a fresh assertion for one if the cache holds
// no live value for this installation.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64, opts ...RefreshOption) (InstallationToken, error) {
	var cfg refreshConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key := strconv.FormatInt(installationID, 10)
	mint := func() (InstallationToken, error) {
		return a.exchangeToken(ctx, installationID)
	}
	if cfg.force {
		token, err := mint()
		if err != nil {
			return "", err
		}
		return a.tokens.Write(key, token, installationTokenTTL)
	}
	return a.tokens.Fetch(key, installationTokenTTL, mint)
}

// signAssertion creates the signed JWT proving the app's identity.
func (a *AppAuth) signAssertion() (AppJWT, error) {
	// Truncate to seconds, GitHub rejects fractional timestamps.
	now := time.Now().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTValidity)),
		Issuer:    strconv.FormatInt(a.appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.rsaKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app assertion: %w", err)
	}
	return AppJWT(signed), nil
}

// exchangeToken trades a signed assertion for an installation token.
func (a *AppAuth) exchangeToken(ctx context.Context, installationID int64) (InstallationToken, error) {
	assertion, err := a.JWT()
	if err != nil {
		return "", err
	}

	body := map[string]any{}
	if len(a.permissions) > 0 {
		body["permissions"] = a.permissions
	}
	resp, err := a.transport.Post(ctx,
		fmt.Sprintf("/app/installations/%d/access_tokens", installationID),
		body, assertion)
	if err != nil {
		return "", err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode installation token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("installation token response carries no token")
	}
	return InstallationToken(payload.Token), nil
}
