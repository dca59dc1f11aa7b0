// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command denali runs and operates the Denali hierarchical reasoning
// service.
//
// Denali executes reasoning sessions as two nested loops: a strategic
// loop that plans directives for a task, and a tactical loop that
// refines each directive until confidence converges. Every session is
// persisted as a full trace and served over a REST + WebSocket API.
//
// Usage:
//
//	denali serve --config config.yaml
//	denali reason '{"description":"design a rate limiter"}'
//	denali session list --status ACTIVE --watch
//	denali admin backup --upload
//
// Server commands talk to a running instance (set DENALI_SERVER_URL or
// --server). Admin commands open the trace store directly and require
// the server to be stopped.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
