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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL  string // CLI override for the server base URL
	configPath string // Path to the YAML/JSON config file

	serveDebug bool

	taskFile            string
	reasonMaxIterations int
	reasonMinConfidence float64

	refineGoals         []string
	refineMaxIterations int

	listStatus string
	listWatch  bool

	backupUpload bool

	initOutPath string
	initForce   bool

	versionRequire string

	rootCmd = &cobra.Command{
		Use:          "denali",
		Short:        "A cli to run and operate the Denali hierarchical reasoning service",
		SilenceUsage: true,
		Long: `Denali runs hierarchical reasoning sessions: a strategic loop plans
directives for a task and a tactical loop refines each directive until
confidence converges. The serve command starts the API server; the rest
of the commands drive a running instance over HTTP.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Denali reasoning API server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Reasoning Operations ---
	reasonCmd = &cobra.Command{
		Use:   "reason [task]",
		Short: "Run a full reasoning session to completion",
		Long: `Runs a reasoning session and prints the terminal report. The task is
a JSON object given as the argument, read from --task-file, or read
from stdin when the argument is "-". Bare text is wrapped into
{"description": ...}.`,
		RunE: runReason, // Defined in cmd_reason.go
	}
	decomposeCmd = &cobra.Command{
		Use:   "decompose [task]",
		Short: "Run a single strategic pass and print the task decomposition",
		RunE:  runDecompose, // Defined in cmd_reason.go
	}
	refineCmd = &cobra.Command{
		Use:   "refine [session-id]",
		Short: "Resume a terminal session with additional refinement goals",
		RunE:  runRefine, // Defined in cmd_reason.go
	}
	analyzeCmd = &cobra.Command{
		Use:   "analyze [session-id]",
		Short: "Summarize the convergence behavior of a session",
		RunE:  runAnalyze, // Defined in cmd_reason.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage reasoning sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List reasoning sessions",
		RunE:  runListSessions, // Defined in cmd_sessions.go
	}
	getSessionCmd = &cobra.Command{
		Use:   "get [session-id]",
		Short: "Print the full trace of a session",
		RunE:  runGetSession, // Defined in cmd_sessions.go
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a terminal session and its trace",
		RunE:  runDeleteSession, // Defined in cmd_sessions.go
	}

	// --- Store Administration ---
	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Operate directly on the local trace store",
		Long: `Admin commands open the Badger trace store from the local config.
Badger is single-process: stop the server before running these.`,
	}
	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete terminal sessions older than the retention period",
		RunE:  runPrune, // Defined in cmd_admin.go
	}
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a full store backup to the backup directory",
		RunE:  runBackup, // Defined in cmd_admin.go
	}

	// --- Setup ---
	initConfigCmd = &cobra.Command{
		Use:   "init",
		Short: "Interactively write a starter config file",
		RunE:  runInitConfig, // Defined in cmd_init.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the denali version",
		RunE:  runVersion, // Defined in cmd_version.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Denali server base URL (default $DENALI_SERVER_URL or http://localhost:8080)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")

	rootCmd.AddCommand(reasonCmd)
	reasonCmd.Flags().StringVar(&taskFile, "task-file", "", "Read the task JSON from a file")
	reasonCmd.Flags().IntVar(&reasonMaxIterations, "max-iterations", 0,
		"Override the strategic iteration cap for this session")
	reasonCmd.Flags().Float64Var(&reasonMinConfidence, "min-confidence", 0,
		"Override the per-cycle confidence threshold for this session")

	rootCmd.AddCommand(decomposeCmd)
	decomposeCmd.Flags().StringVar(&taskFile, "task-file", "", "Read the task JSON from a file")

	rootCmd.AddCommand(refineCmd)
	refineCmd.Flags().StringArrayVar(&refineGoals, "goal", nil,
		"Refinement goal to fold into the task (repeatable)")
	refineCmd.Flags().IntVar(&refineMaxIterations, "max-iterations", 0,
		"Cap on additional strategic iterations")

	rootCmd.AddCommand(analyzeCmd)

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(listSessionsCmd)
	listSessionsCmd.Flags().StringVar(&listStatus, "status", "",
		"Filter by status (CREATED, ACTIVE, COMPLETED, TIMEOUT, ERROR)")
	listSessionsCmd.Flags().BoolVar(&listWatch, "watch", false,
		"Live session table; requires an interactive terminal")
	sessionCmd.AddCommand(getSessionCmd)
	sessionCmd.AddCommand(deleteSessionCmd)

	rootCmd.AddCommand(adminCmd)
	adminCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML or JSON config file")
	adminCmd.AddCommand(pruneCmd)
	adminCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolVar(&backupUpload, "upload", false,
		"Upload the backup file to the configured GCS bucket")

	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().StringVar(&initOutPath, "out", "denali.yaml", "Where to write the config file")
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionRequire, "require", "",
		"Exit nonzero unless the binary is at least this semver version")
}
