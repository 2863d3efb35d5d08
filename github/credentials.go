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
	"crypto/sha256"
	"fmt"
)

// Credential is a value that can authenticate a GitHub API request.
// The set of implementations is closed: a signed app assertion, an
// exchanged installation token, a user-delegated OAuth token, or an
// opaque value used verbatim.
type Credential interface {
	// HeaderValue renders the credential as an Authorization header value.
	HeaderValue() string
}

// AppJWT is a signed assertion proving the application's identity.
type AppJWT string

// HeaderValue implements Credential.
func (t AppJWT) HeaderValue() string {
	return "Bearer " + string(t)
}

// InstallationToken is an opaque bearer token scoped to one installation,
// obtained by exchanging an AppJWT.
type InstallationToken string

// HeaderValue implements Credential.
func (t InstallationToken) HeaderValue() string {
	return "Bearer " + string(t)
}

// UserToken is an OAuth token delegated by a user.
type UserToken string

// HeaderValue implements Credential.
func (t UserToken) HeaderValue() string {
	return "token " + string(t)
}

// RawCredential is an Authorization header value used verbatim.
type RawCredential string

// HeaderValue implements Credential.
func (t RawCredential) HeaderValue() string {
	return string(t)
}

// credentialKey derives a stable cache key component that identifies a
// credential without embedding its secret material in cache keys.
func credentialKey(cred Credential) string {
	if cred == nil {
		return "anonymous"
	}
	hash := sha256.Sum256([]byte(cred.HeaderValue()))
	return fmt.Sprintf("%x", hash[:8])
}
