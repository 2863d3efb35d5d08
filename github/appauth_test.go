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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	. "github.com/onsi/gomega"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

func TestNewAppAuth(t *testing.T) {
	_, pemKey := generateTestKey(t)

	tests := []struct {
		name    string
		opts    []AppAuthOption
		wantErr string
	}{
		{
			name: "valid configuration",
			opts: []AppAuthOption{WithAppID(123), WithPrivateKey(pemKey)},
		},
		{
			name:    "missing app ID",
			opts:    []AppAuthOption{WithPrivateKey(pemKey)},
			wantErr: "app ID must be provided",
		},
		{
			name:    "missing private key",
			opts:    []AppAuthOption{WithAppID(123)},
			wantErr: "private key must be provided",
		},
		{
			name:    "invalid private key",
			opts:    []AppAuthOption{WithAppID(123), WithPrivateKey([]byte("  "))},
			wantErr: "could not parse private key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			auth, err := NewAppAuth(tt.opts...)
			if tt.wantErr != "" {
				g.Expect(err).To(HaveOccurred())
				g.Expect(err.Error()).To(ContainSubstring(tt.wantErr))
				return
			}
			g.Expect(err).ToNot(HaveOccurred())
			t.Cleanup(func() { auth.Close() })
		})
	}
}

func TestAppAuth_JWT(t *testing.T) {
	g := NewWithT(t)
	key, pemKey := generateTestKey(t)

	auth, err := NewAppAuth(WithAppID(123), WithPrivateKey(pemKey))
	g.Expect(err).ToNot(HaveOccurred())
	t.Cleanup(func() { auth.Close() })

	assertion, err := auth.JWT()
	g.Expect(err).ToNot(HaveOccurred())

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(string(assertion), claims, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(parsed.Valid).To(BeTrue())
	g.Expect(parsed.Method.Alg()).To(Equal("RS256"))
	g.Expect(claims.Issuer).To(Equal("123"))
	g.Expect(claims.ExpiresAt.Sub(claims.IssuedAt.Time)).To(Equal(10 * time.Minute))

	// A second call within the cache window returns the same assertion.
	again, err := auth.JWT()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(again).To(Equal(assertion))
}

func TestAppAuth_InstallationToken(t *testing.T) {
	t.Run("exchanges an assertion with the requested scope", func(t *testing.T) {
		g := NewWithT(t)
		_, pemKey := generateTestKey(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.Expect(r.Method).To(Equal(http.MethodPost))
			g.Expect(r.URL.Path).To(Equal("/app/installations/456/access_tokens"))
			g.Expect(r.Header.Get("Authorization")).To(HavePrefix("Bearer "))

			var body map[string]map[string]string
			g.Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			g.Expect(body["permissions"]).To(Equal(map[string]string{"actions": "read"}))

			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"token":"inst-token","expires_at":"2030-01-01T00:00:00Z"}`)
		}))
		t.Cleanup(srv.Close)

		auth, err := NewAppAuth(
			WithAppID(123),
			WithPrivateKey(pemKey),
			WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
		g.Expect(err).ToNot(HaveOccurred())
		t.Cleanup(func() { auth.Close() })

		token, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(token).To(Equal(InstallationToken("inst-token")))
	})

	t.Run("cached token avoids the exchange", func(t *testing.T) {
		g := NewWithT(t)
		_, pemKey := generateTestKey(t)

		var exchanges atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := exchanges.Add(1)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
		}))
		t.Cleanup(srv.Close)

		auth, err := NewAppAuth(
			WithAppID(123),
			WithPrivateKey(pemKey),
			WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
		g.Expect(err).ToNot(HaveOccurred())
		t.Cleanup(func() { auth.Close() })

		first, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())
		second, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(second).To(Equal(first))
		g.Expect(exchanges.Load()).To(Equal(int32(1)))

		// A different installation is a different cache key.
		other, err := auth.InstallationToken(context.Background(), 789)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(other).ToNot(Equal(first))
		g.Expect(exchanges.Load()).To(Equal(int32(2)))
	})

	t.Run("forced refresh replaces the cached token", func(t *testing.T) {
		g := NewWithT(t)
		_, pemKey := generateTestKey(t)

		var exchanges atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := exchanges.Add(1)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
		}))
		t.Cleanup(srv.Close)

		auth, err := NewAppAuth(
			WithAppID(123),
			WithPrivateKey(pemKey),
			WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
		g.Expect(err).ToNot(HaveOccurred())
		t.Cleanup(func() { auth.Close() })

		first, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())

		forced, err := auth.InstallationToken(context.Background(), 456, ForceRefresh())
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(forced).ToNot(Equal(first))

		forcedAgain, err := auth.InstallationToken(context.Background(), 456, ForceRefresh())
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(forcedAgain).ToNot(Equal(forced))

		// The replacement is what the cache now returns.
		cached, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(cached).To(Equal(forcedAgain))
	})

	t.Run("failed exchange is not cached", func(t *testing.T) {
		g := NewWithT(t)
		_, pemKey := generateTestKey(t)

		var fail atomic.Bool
		fail.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"message":"Bad credentials"}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"token":"tok"}`)
		}))
		t.Cleanup(srv.Close)

		auth, err := NewAppAuth(
			WithAppID(123),
			WithPrivateKey(pemKey),
			WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
		g.Expect(err).ToNot(HaveOccurred())
		t.Cleanup(func() { auth.Close() })

		_, err = auth.InstallationToken(context.Background(), 456)
		g.Expect(err).To(MatchError(ErrUnauthorized))

		fail.Store(false)
		token, err := auth.InstallationToken(context.Background(), 456)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(token).To(Equal(InstallationToken("tok")))
	})

	t.Run("response without a token is rejected", func(t *testing.T) {
		g := NewWithT(t)
		_, pemKey := generateTestKey(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(srv.Close)

		auth, err := NewAppAuth(
			WithAppID(123),
			WithPrivateKey(pemKey),
			WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
		g.Expect(err).ToNot(HaveOccurred())
		t.Cleanup(func() { auth.Close() })

		_, err = auth.InstallationToken(context.Background(), 456)
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("carries no token"))
		g.Expect(errors.Is(err, ErrUnauthorized)).To(BeFalse())
	})
}

func TestAppAuth_TokenPermissions(t *testing.T) {
	g := NewWithT(t)
	_, pemKey := generateTestKey(t)

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token":"tok"}`)
	}))
	t.Cleanup(srv.Close)

	auth, err := NewAppAuth(
		WithAppID(123),
		WithPrivateKey(pemKey),
		WithTokenPermissions(map[string]string{"contents": "read"}),
		WithTransport(NewTransport(WithBaseURL(srv.URL), WithRetries(0))))
	g.Expect(err).ToNot(HaveOccurred())
	t.Cleanup(func() { auth.Close() })

	_, err = auth.InstallationToken(context.Background(), 456)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(gotBody).To(MatchJSON(`{"permissions":{"contents":"read"}}`))
}
