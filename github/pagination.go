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
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// pageItems decodes the item collection out of one page payload.
type pageItems[T any] func(body []byte) ([]T, error)

// items decodes a payload that is the item array itself.
func items[T any](body []byte) ([]T, error) {
	var page []T
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	return page, nil
}

// itemsIn returns a decoder for payloads that wrap the item array in a
// container object, e.g. {"total_count": 3, "artifacts": [...]}.
func itemsIn[T any](field string) pageItems[T] {
	return func(body []byte) ([]T, error) {
		var container map[string]json.RawMessage
		if err := json.Unmarshal(body, &container); err != nil {
			return nil, fmt.Errorf("failed to decode page: %w", err)
		}
		raw, ok := container[field]
		if !ok {
			return nil, fmt.Errorf("page payload has no %q field", field)
		}
		var page []T
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode %q items: %w", field, err)
		}
		return page, nil
	}
}

// listQuery describes one paginated listing call.
type listQuery struct {
	// path is the initial resource locator, relative to the API base URL.
	path string
	// query is merged into the first request. Subsequent requests follow
	// the cursor URL verbatim, which already carries what the server
	// needs, so first-page-only filters are naturally dropped.
	query url.Values
	// perPage is the page size hint sent to the server.
	perPage int
	// limit caps the total number of items yielded across all pages.
	limit int
}

// fetchPaged walks a paginated listing: it requests pages starting at
// q.path, follows the rel="next" cursor, and hands every item to yield
// in server delivery order. It stops as soon as q.limit items have been
// yielded, discarding the rest of an already fetched page, or when no
// further cursor exists. A non-2xx page aborts the whole walk with the
// transport error; items yielded before a failing page stay yielded.
func fetchPaged[T any](ctx context.Context, tr *Transport, cred Credential, q listQuery, decode pageItems[T], yield func(T)) error {
	if q.limit <= 0 {
		return nil
	}

	params := url.Values{}
	for k, vs := range q.query {
		params[k] = vs
	}
	if q.perPage > 0 {
		params.Set("per_page", strconv.Itoa(q.perPage))
	}

	next := q.path
	count := 0
	for next != "" {
		resp, err := tr.Get(ctx, next, params, cred)
		if err != nil {
			return err
		}
		page, err := decode(resp.Body)
		if err != nil {
			return err
		}
		for _, item := range page {
			yield(item)
			count++
			if count == q.limit {
				return nil
			}
		}
		next = resp.NextPage
		params = nil
	}
	return nil
}
