// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

// version is stamped at build time:
//
//	go build -ldflags "-X main.version=v1.2.0" ./cmd/denali
var version = "v0.1.0-dev"

// runVersion prints the version. With --require it also gates scripts:
// exit is nonzero when the binary is older than the required version.
func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Println("denali", version)
	if versionRequire == "" {
		return nil
	}
	if !semver.IsValid(versionRequire) {
		return fmt.Errorf("--require %q is not a valid semver version (needs a leading v)", versionRequire)
	}
	if semver.Compare(version, versionRequire) < 0 {
		return fmt.Errorf("denali %s is older than required %s", version, versionRequire)
	}
	return nil
}
