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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/njzydark/nightly.link/github"
)

// installationsCmd represents the installations command.
var installationsCmd = &cobra.Command{
	Use:   "installations",
	Short: "List the installations of the app and their repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstallations(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(installationsCmd)
}

func runInstallations(ctx context.Context) error {
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

	var installations []github.Installation
	err = client.Installations(ctx, assertion, func(i github.Installation) {
		installations = append(installations, i)
	})
	if err != nil {
		return err
	}

	for _, installation := range installations {
		fmt.Printf("%d\t%s\n", installation.ID, installation.Account.Login)

		token, err := auth.InstallationToken(ctx, installation.ID)
		if err != nil {
			return err
		}
		err = client.InstallationRepositories(ctx, token, func(r github.Repository) {
			fmt.Printf("\t%s\n", r.FullName)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
