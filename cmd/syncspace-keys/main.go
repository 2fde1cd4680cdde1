// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syncspace-keys",
	Short: "syncspace-keys - identity key management for the syncspace sync engine",
	Long: `syncspace-keys manages the signing and encryption keys an operator
identity is built from: generating Ed25519/Secp256k1 pairs, exporting and
importing them as JWK or PEM, storing them at rest, rotating them, and
signing or verifying arbitrary messages against them.

This is a companion to syncctl: syncctl's own identity bootstrap keeps
an operator's working keypair inline, while this tool manages keys held
in longer-lived storage (service identities, key rotation schedules,
detached signature checks).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Commands are registered in their respective files:
	// - generate.go: generateCmd
	// - sign.go: signCmd
	// - verify.go: verifyCmd
	// - list.go: listCmd
	// - rotate.go: rotateCmd
}
