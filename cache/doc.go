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

// Package cache provides Expiring, a generic thread-safe in-memory
// key/value store with per-entry time-to-live and a background janitor
// that sweeps expired entries. The value type is fixed when creating the
// cache. For example, for storing string values:
//
//	c, err := NewExpiring[string]()
//
// The primary access pattern is compute-on-miss:
//
//	token, err := c.Fetch("key", 9*time.Minute, mintToken)
//
// The cache is self-instrumenting and exports metrics about its internal
// operations if it is configured with a metrics registerer:
//
//	c, err := NewExpiring[string](WithMetricsRegisterer(reg))
package cache
