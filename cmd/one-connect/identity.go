// one-connect - ONE Connection Substrate
// Copyright (C) 2025 refinio
//
// This file is part of one-connect.
//
// one-connect is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// one-connect is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with one-connect. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refinio/one-connect/identity"
)

var (
	identityOutput     string
	identitySecretFile string
	identityPersonMail string
	identityInstance   string
	identityURL        string
)

var identityGenerateCmd = &cobra.Command{
	Use:   "identity-generate",
	Short: "Generate a new identity and its secret-key companion file",
	RunE:  runIdentityGenerate,
}

func init() {
	identityGenerateCmd.Flags().StringVar(&identityOutput, "out", "identity.id.json", "path for the plaintext identity file")
	identityGenerateCmd.Flags().StringVar(&identitySecretFile, "secret-out", "", "path for the secret-key file (defaults to <out>'s _secret variant)")
	identityGenerateCmd.Flags().StringVar(&identityPersonMail, "person-email", "", "person email for the identity file")
	identityGenerateCmd.Flags().StringVar(&identityInstance, "instance-name", "", "instance name for the identity file")
	identityGenerateCmd.Flags().StringVar(&identityURL, "url", "", "optional direct-connection URL to embed in the identity file")
	rootCmd.AddCommand(identityGenerateCmd)
}

func runIdentityGenerate(cmd *cobra.Command, args []string) error {
	secretOut := identitySecretFile
	if secretOut == "" {
		secretOut = secretFileNameFor(identityOutput)
	}

	f, sf, err := identity.Generate(identity.GenerateOptions{
		PersonEmail:  identityPersonMail,
		InstanceName: identityInstance,
		URL:          identityURL,
	})
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	if err := f.Save(identityOutput); err != nil {
		return fmt.Errorf("save identity file: %w", err)
	}
	if err := sf.Save(secretOut); err != nil {
		return fmt.Errorf("save secret file: %w", err)
	}

	fmt.Printf("identity:   %s\n", identityOutput)
	fmt.Printf("secret:     %s\n", secretOut)
	fmt.Printf("instance public key: %s\n", f.InstancePublicKey)
	fmt.Printf("person public key:   %s\n", f.PersonPublicKey)
	return nil
}

// secretFileNameFor derives "name_secret.id.json" from "name.id.json",
// matching the *.id.json / *_secret.id.json naming spec.md's identity files
// use; any other path gets "_secret" inserted before its last extension.
func secretFileNameFor(path string) string {
	if strings.HasSuffix(path, ".id.json") {
		return strings.TrimSuffix(path, ".id.json") + "_secret.id.json"
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i] + "_secret" + path[i:]
		}
	}
	return path + "_secret"
}
