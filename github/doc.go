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

// Package github is a client-side access layer for the GitHub Actions
// REST API, built for resolving artifact downloads on behalf of a GitHub
// App.
//
// AppAuth manages the two tiers of short-lived credentials: the RS256
// signed app assertion (valid 10 minutes at GitHub, cached 9) and the
// installation token exchanged for it (valid 60 minutes, cached 55).
// A credential rejected upstream is replaced with ForceRefresh:
//
//	token, err := auth.InstallationToken(ctx, installationID)
//	// ... use token, observe ErrUnauthorized ...
//	token, err = auth.InstallationToken(ctx, installationID, ForceRefresh())
//
// Client wraps the paginated listing endpoints behind materialized
// per-query caches, so repeated lookups within the cache window cost no
// network round trips. All failures propagate to the caller unchanged;
// nothing is retried or swallowed inside this package beyond the
// transport's own backoff on connection failures and 5xx responses.
package github
