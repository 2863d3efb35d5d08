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
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/njzydark/nightly.link/config"
	"github.com/njzydark/nightly.link/github"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nightly-link",
	Short: "Resolve permanent links to GitHub Actions artifacts",
	Long: `nightly-link resolves the latest artifact of a GitHub Actions
workflow to its short-lived signed download URL, authenticating as a
GitHub App and caching every intermediate lookup.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

type rootFlags struct {
	config  string
	verbose bool
}

var rootOpts rootFlags

// Execute adds all child commands to the root command and runs it. This
// is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.config, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.verbose, "verbose", "v", false, "Verbose output")
}

func newLogger() logr.Logger {
	if rootOpts.verbose {
		stdr.SetVerbosity(1)
	}
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

// setup loads the configuration and builds the transport, credential
// manager and listing client shared by the subcommands.
func setup() (*config.Config, *github.AppAuth, *github.Client, error) {
	cfg, err := config.Load(rootOpts.config)
	if err != nil {
		return nil, nil, nil, err
	}
	key, err := cfg.PrivateKey()
	if err != nil {
		return nil, nil, nil, err
	}

	transportOpts := []github.TransportOption{
		github.WithRetries(cfg.Retries),
		github.WithLogger(newLogger()),
	}
	if cfg.APIBaseURL != "" {
		transportOpts = append(transportOpts, github.WithBaseURL(cfg.APIBaseURL))
	}
	transport := github.NewTransport(transportOpts...)

	authOpts := []github.AppAuthOption{
		github.WithAppID(cfg.AppID),
		github.WithPrivateKey(key),
		github.WithTransport(transport),
	}
	if cfg.TokenPermissions != nil {
		authOpts = append(authOpts, github.WithTokenPermissions(cfg.TokenPermissions))
	}
	auth, err := github.NewAppAuth(authOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := github.NewClient(
		github.WithClientTransport(transport),
		github.WithListingTTL(cfg.ListingTTL),
		github.WithRunListingTTL(cfg.RunListingTTL))
	if err != nil {
		auth.Close()
		return nil, nil, nil, err
	}
	return cfg, auth, client, nil
}
