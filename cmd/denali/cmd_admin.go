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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Denali/services/reasoning/config"
	"github.com/AleutianAI/Denali/services/reasoning/store"
	"github.com/AleutianAI/Denali/services/reasoning/ttl"
)

// openLocalStore opens the Badger trace store named by the config.
//
// Badger holds an exclusive directory lock, so this fails while the
// server is running. That is intentional: admin commands are offline
// maintenance, not a second writer.
func openLocalStore(cfg config.Config, logger *slog.Logger) (*store.BadgerStore, error) {
	if cfg.Persistence.InMemory {
		return nil, fmt.Errorf("persistence.in_memory is set; admin commands need a durable store")
	}
	bcfg := store.DefaultBadgerConfig()
	bcfg.Path = cfg.Persistence.DatabasePath
	bcfg.SyncWrites = cfg.Persistence.SyncWrites
	bcfg.Logger = logger
	return store.NewBadgerStore(bcfg)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newCLILogger(cfg)
	defer logger.Close()

	st, err := openLocalStore(cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer st.Close()

	jan, err := ttl.NewJanitor(st, ttl.Config{
		SessionTimeout: cfg.Server.SessionTimeout(),
		SweepInterval:  cfg.Persistence.SweepInterval,
		Retention:      cfg.Persistence.RetentionPeriod(),
		PruneInterval:  cfg.Persistence.PruneInterval,
	}, logger.Slog())
	if err != nil {
		return err
	}

	// Time out idle ACTIVE sessions first so a crashed server's
	// leftovers become prunable on the next run.
	swept, err := jan.SweepOnce(cmd.Context())
	if err != nil {
		return err
	}
	pruned, err := jan.PruneOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Timed out %d idle session(s), pruned %d expired session(s).\n", swept, pruned)
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newCLILogger(cfg)
	defer logger.Close()

	st, err := openLocalStore(cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer st.Close()

	path, err := store.BackupToFile(cmd.Context(), st, cfg.Persistence.BackupDir)
	if err != nil {
		return err
	}
	fmt.Println("Backup written to", path)

	if !backupUpload {
		return nil
	}
	if cfg.Persistence.GCSBucket == "" {
		return fmt.Errorf("--upload requires persistence.gcs_bucket in the config")
	}
	up, err := store.NewUploader(cmd.Context(),
		cfg.Persistence.GCSBucket,
		cfg.Persistence.GCSPrefix,
		cfg.Persistence.GCSCredentialsFile,
		logger.Slog())
	if err != nil {
		return err
	}
	defer up.Close()

	object, err := up.UploadFile(cmd.Context(), path)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded to gs://%s/%s\n", cfg.Persistence.GCSBucket, object)
	return nil
}
