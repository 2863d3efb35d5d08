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

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/njzydark/nightly.link/github"
)

// resolveCmd represents the resolve command.
var resolveCmd = &cobra.Command{
	Use:   "resolve <owner> <repo> <workflow>",
	Short: "Resolve the latest artifact of a workflow to its download URL",
	Long: `Resolve the newest artifact produced by the most recent successful
run of a workflow on a branch, and print its signed download URL.

The workflow is identified by its file name, e.g. "nightly.yml".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd.Context(), args[0], args[1], args[2])
	},
}

type resolveFlags struct {
	branch   string
	artifact string
}

var resolveOpts resolveFlags

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveOpts.branch, "branch", "b", "main", "Head branch the run must have built")
	resolveCmd.Flags().StringVarP(&resolveOpts.artifact, "artifact", "a", "", "Artifact name to match (default: the run's first artifact)")
}

func runResolve(ctx context.Context, owner, repo, workflow string) error {
	_, auth, client, err := setup()
	if err != nil {
		return err
	}
	defer auth.Close()
	defer client.Close()

	assertion, err := auth.JWT()
	if err != nil {
		return err
	}
	installation, err := client.RepoInstallation(ctx, assertion, owner, repo)
	if err != nil {
		return fmt.Errorf("failed to look up the app installation for %s/%s: %w", owner, repo, err)
	}

	token, err := auth.InstallationToken(ctx, installation.ID)
	if err != nil {
		return err
	}

	artifact, run, err := resolveArtifact(ctx, client, token, owner, repo, workflow)
	if errors.Is(err, github.ErrUnauthorized) {
		// The cached token may have been revoked. Mint a replacement and
		// try once more.
		if token, err = auth.InstallationToken(ctx, installation.ID, github.ForceRefresh()); err != nil {
			return err
		}
		artifact, run, err = resolveArtifact(ctx, client, token, owner, repo, workflow)
	}
	if err != nil {
		return err
	}

	url, err := client.ArtifactDownloadURL(ctx, token, owner, repo, artifact.ID)
	if err != nil {
		return err
	}

	fmt.Printf("run:      %d (%s)\n", run.ID, run.HeadBranch)
	fmt.Printf("artifact: %s (%d)\n", artifact.Name, artifact.ID)
	fmt.Printf("url:      %s\n", url)
	return nil
}

func resolveArtifact(ctx context.Context, client *github.Client, token github.InstallationToken, owner, repo, workflow string) (*github.Artifact, *github.WorkflowRun, error) {
	return client.LatestArtifact(ctx, token, owner, repo, workflow,
		resolveOpts.branch, resolveOpts.artifact)
}
