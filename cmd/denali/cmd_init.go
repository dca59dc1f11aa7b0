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
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Denali/services/reasoning/config"
)

// runInitConfig walks the user through a starter config and writes it
// with config.WriteFile. Everything not asked here keeps its default;
// the written file is a full snapshot, so it is easy to hand-edit later.
func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists; use --force to overwrite", initOutPath)
	}

	cfg := config.Default()
	port := strconv.Itoa(cfg.Server.Port)
	backend := cfg.Planner.Backend
	model := cfg.Planner.Model
	dbPath := cfg.Persistence.DatabasePath
	inMemory := cfg.Persistence.InMemory
	retention := strconv.Itoa(cfg.Persistence.RetentionDays)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Planner backend").
				Description("heuristic needs no external services").
				Options(huh.NewOptions("heuristic", "openai", "ollama")...).
				Value(&backend),
			huh.NewInput().
				Title("Model").
				Description("Ignored by the heuristic backend").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Use the in-memory trace store?").
				Description("Sessions are lost on restart; fine for development").
				Value(&inMemory),
			huh.NewInput().
				Title("Trace store path").
				Value(&dbPath),
			huh.NewInput().
				Title("Retention days for terminal sessions").
				Value(&retention).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("retention must be a positive integer")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Planner.Backend = backend
	cfg.Planner.Model = model
	cfg.Persistence.DatabasePath = dbPath
	cfg.Persistence.InMemory = inMemory
	cfg.Persistence.RetentionDays, _ = strconv.Atoi(retention)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.WriteFile(initOutPath); err != nil {
		return err
	}
	fmt.Println("Wrote", initOutPath)
	fmt.Println("Start the server with: denali serve --config", initOutPath)
	return nil
}
