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
	"strings"
	"time"

	"github.com/njzydark/nightly.link/cache"
)

// Page size hints and item caps per listing kind. Runs are fetched in
// small pages because callers almost always want the newest one.
const (
	installationsPerPage = 100
	installationsLimit   = 100000

	repositoriesPerPage = 100
	repositoriesLimit   = 100000

	workflowsPerPage = 100
	workflowsLimit   = 300

	workflowRunsPerPage = 10
	workflowRunsLimit   = 100

	artifactsPerPage = 100
	artifactsLimit   = 300
)

const (
	// defaultListingTTL applies to listings that change rarely
	// (installations, repositories, workflows).
	defaultListingTTL = 5 * time.Minute
	// defaultRunTTL applies to listings that change with every push
	// (runs, artifacts).
	defaultRunTTL = 30 * time.Second
	// downloadURLTTL bounds how long a resolved artifact download URL is
	// reused. GitHub's signed URLs expire after about a minute.
	downloadURLTTL = 50 * time.Second
)

// Client wraps the paginated listing endpoints of the GitHub Actions API
// with per-listing materialized caches: a hit replays the stored items to
// the consumer with zero network access, a miss walks all pages to
// completion, stores the ordered result and then replays it.
type Client struct {
	transport *Transport

	listingTTL time.Duration
	runTTL     time.Duration

	installations *cache.Expiring[[]Installation]
	repositories  *cache.Expiring[[]Repository]
	workflows     *cache.Expiring[[]Workflow]
	workflowRuns  *cache.Expiring[[]WorkflowRun]
	artifacts     *cache.Expiring[[]Artifact]
	downloadURLs  *cache.Expiring[string]
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	transport  *Transport
	listingTTL time.Duration
	runTTL     time.Duration
	cacheOpts  []cache.Options
}

// WithClientTransport sets the transport used for API calls.
func WithClientTransport(transport *Transport) ClientOption {
	return func(c *clientConfig) {
		c.transport = transport
	}
}

// WithListingTTL overrides the cache TTL for slow-moving listings.
func WithListingTTL(ttl time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.listingTTL = ttl
	}
}

// WithRunListingTTL overrides the cache TTL for run and artifact listings.
func WithRunListingTTL(ttl time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.runTTL = ttl
	}
}

// WithListingCacheOptions passes options through to the listing caches,
// e.g. a metrics registerer or a custom cleanup interval.
func WithListingCacheOptions(opts ...cache.Options) ClientOption {
	return func(c *clientConfig) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// NewClient returns a client ready to issue listing calls.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		listingTTL: defaultListingTTL,
		runTTL:     defaultRunTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.transport == nil {
		cfg.transport = NewTransport()
	}

	c := &Client{
		transport:  cfg.transport,
		listingTTL: cfg.listingTTL,
		runTTL:     cfg.runTTL,
	}

	var err error
	if c.installations, err = cache.NewExpiring[[]Installation](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	if c.repositories, err = cache.NewExpiring[[]Repository](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	if c.workflows, err = cache.NewExpiring[[]Workflow](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	if c.workflowRuns, err = cache.NewExpiring[[]WorkflowRun](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	if c.artifacts, err = cache.NewExpiring[[]Artifact](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	if c.downloadURLs, err = cache.NewExpiring[string](cfg.cacheOpts...); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the listing caches.
func (c *Client) Close() error {
	for _, closer := range []interface{ Close() error }{
		c.installations, c.repositories, c.workflows,
		c.workflowRuns, c.artifacts, c.downloadURLs,
	} {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	return nil
}

// listCached is the caching decorator around a paginated fetch: on a hit
// the stored items are replayed to yield without network access; on a
// miss fill runs to completion, the collected items are stored under key
// and then replayed. Consumers always see items after the full walk.
func listCached[T any](c *cache.Expiring[[]T], key string, ttl time.Duration, fill func(yield func(T)) error, yield func(T)) error {
	collected, err := c.Fetch(key, ttl, func() ([]T, error) {
		page := []T{}
		if err := fill(func(item T) { page = append(page, item) }); err != nil {
			return nil, err
		}
		return page, nil
	})
	if err != nil {
		return err
	}
	for _, item := range collected {
		yield(item)
	}
	return nil
}

// listKey builds the cache key identifying one logical query.
func listKey(parts ...string) string {
	return strings.Join(parts, "/")
}

// Installations yields every installation of the app. Authenticate with
// the app's signed assertion.
func (c *Client) Installations(ctx context.Context, cred Credential, yield func(Installation)) error {
	key := listKey("installations", credentialKey(cred))
	return listCached(c.installations, key, c.listingTTL, func(yield func(Installation)) error {
		return fetchPaged(ctx, c.transport, cred, listQuery{
			path:    "/app/installations",
			perPage: installationsPerPage,
			limit:   installationsLimit,
		}, items[Installation], yield)
	}, yield)
}

// RepoInstallation returns the installation that grants access to the
// given repository. Authenticate with the app's signed assertion.
func (c *Client) RepoInstallation(ctx context.Context, cred Credential, owner, repo string) (*Installation, error) {
	resp, err := c.transport.Get(ctx, fmt.Sprintf("/repos/%s/%s/installation", owner, repo), nil, cred)
	if err != nil {
		return nil, err
	}
	var installation Installation
	if err := json.Unmarshal(resp.Body, &installation); err != nil {
		return nil, fmt.Errorf("failed to decode installation: %w", err)
	}
	return &installation, nil
}

// InstallationRepositories yields the repositories reachable with the
// given installation token.
func (c *Client) InstallationRepositories(ctx context.Context, cred Credential, yield func(Repository)) error {
	key := listKey("repositories", credentialKey(cred))
	return listCached(c.repositories, key, c.listingTTL, func(yield func(Repository)) error {
		return fetchPaged(ctx, c.transport, cred, listQuery{
			path:    "/installation/repositories",
			perPage: repositoriesPerPage,
			limit:   repositoriesLimit,
		}, itemsIn[Repository]("repositories"), yield)
	}, yield)
}

// Workflows yields the workflows defined in a repository.
func (c *Client) Workflows(ctx context.Context, cred Credential, owner, repo string, yield func(Workflow)) error {
	key := listKey("workflows", credentialKey(cred), owner, repo)
	return listCached(c.workflows, key, c.listingTTL, func(yield func(Workflow)) error {
		return fetchPaged(ctx, c.transport, cred, listQuery{
			path:    fmt.Sprintf("/repos/%s/%s/actions/workflows", owner, repo),
			perPage: workflowsPerPage,
			limit:   workflowsLimit,
		}, itemsIn[Workflow]("workflows"), yield)
	}, yield)
}

// RunFilter narrows a workflow run listing. Zero fields are not sent.
type RunFilter struct {
	// Branch restricts runs to one head branch.
	Branch string
	// Event restricts runs to one trigger event, e.g. "push".
	Event string
	// Status restricts runs by status or conclusion, e.g. "success".
	Status string
	// Since restricts runs to those created at or after the given time.
	Since time.Time
}

func (f RunFilter) values() url.Values {
	q := url.Values{}
	if f.Branch != "" {
		q.Set("branch", f.Branch)
	}
	if f.Event != "" {
		q.Set("event", f.Event)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if !f.Since.IsZero() {
		q.Set("created", ">="+f.Since.UTC().Format(time.RFC3339))
	}
	return q
}

func (f RunFilter) key() string {
	since := ""
	if !f.Since.IsZero() {
		since = f.Since.UTC().Format(time.RFC3339)
	}
	return listKey(f.Branch, f.Event, f.Status, since)
}

// WorkflowRuns yields the runs of a workflow, newest first as delivered
// by the server. The workflow is identified by its numeric ID or its
// file name, e.g. "nightly.yml".
func (c *Client) WorkflowRuns(ctx context.Context, cred Credential, owner, repo, workflow string, filter RunFilter, yield func(WorkflowRun)) error {
	key := listKey("runs", credentialKey(cred), owner, repo, workflow, filter.key())
	return listCached(c.workflowRuns, key, c.runTTL, func(yield func(WorkflowRun)) error {
		return fetchPaged(ctx, c.transport, cred, listQuery{
			path:    fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs", owner, repo, workflow),
			query:   filter.values(),
			perPage: workflowRunsPerPage,
			limit:   workflowRunsLimit,
		}, itemsIn[WorkflowRun]("workflow_runs"), yield)
	}, yield)
}

// Artifacts yields the artifacts uploaded by a workflow run.
func (c *Client) Artifacts(ctx context.Context, cred Credential, owner, repo string, runID int64, yield func(Artifact)) error {
	key := listKey("artifacts", credentialKey(cred), owner, repo, strconv.FormatInt(runID, 10))
	return listCached(c.artifacts, key, c.runTTL, func(yield func(Artifact)) error {
		return fetchPaged(ctx, c.transport, cred, listQuery{
			path:    fmt.Sprintf("/repos/%s/%s/actions/runs/%d/artifacts", owner, repo, runID),
			perPage: artifactsPerPage,
			limit:   artifactsLimit,
		}, itemsIn[Artifact]("artifacts"), yield)
	}, yield)
}

// ArtifactDownloadURL resolves the short-lived signed URL behind an
// artifact's zip download. The URL is cached briefly, well under the
// signed URL's own validity.
func (c *Client) ArtifactDownloadURL(ctx context.Context, cred Credential, owner, repo string, artifactID int64) (string, error) {
	key := listKey("download", owner, repo, strconv.FormatInt(artifactID, 10))
	return c.downloadURLs.Fetch(key, downloadURLTTL, func() (string, error) {
		return c.transport.Location(ctx,
			fmt.Sprintf("/repos/%s/%s/actions/artifacts/%d/zip", owner, repo, artifactID), cred)
	})
}

// LatestArtifact returns the newest artifact with the given name from the
// most recent successful run of a workflow on a branch, along with the
// run that produced it. An empty name matches the run's first artifact.
func (c *Client) LatestArtifact(ctx context.Context, cred Credential, owner, repo, workflow, branch, name string) (*Artifact, *WorkflowRun, error) {
	var run *WorkflowRun
	err := c.WorkflowRuns(ctx, cred, owner, repo, workflow, RunFilter{
		Branch: branch,
		Event:  "push",
		Status: "success",
	}, func(r WorkflowRun) {
		if run == nil {
			run = &r
		}
	})
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, fmt.Errorf("no successful runs of %s on %s/%s@%s: %w", workflow, owner, repo, branch, ErrNotFound)
	}

	var artifact *Artifact
	err = c.Artifacts(ctx, cred, owner, repo, run.ID, func(a Artifact) {
		if artifact != nil || a.Expired {
			return
		}
		if name == "" || a.Name == name {
			artifact = &a
		}
	})
	if err != nil {
		return nil, nil, err
	}
	if artifact == nil {
		return nil, nil, fmt.Errorf("run %d of %s/%s has no artifact %q: %w", run.ID, owner, repo, name, ErrNotFound)
	}
	return artifact, run, nil
}
