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
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Denali/services/reasoning/handlers"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// sessionListResponse mirrors the list endpoint's body.
type sessionListResponse struct {
	Sessions []handlers.SessionReport `json:"sessions"`
	Count    int                      `json:"count"`
}

func fetchSessions(ctx context.Context, c *apiClient, status string) (sessionListResponse, error) {
	path := "/v1/reasoning/sessions"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out sessionListResponse
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func runListSessions(cmd *cobra.Command, args []string) error {
	if listWatch {
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("--watch needs an interactive terminal; pipe the plain list instead")
		}
		return watchSessions(cmd.Context(), newAPIClient(), listStatus)
	}

	out, err := fetchSessions(cmd.Context(), newAPIClient(), listStatus)
	if err != nil {
		return err
	}
	if out.Count == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tSTATUS\tOP\tCONVERGED\tCONFIDENCE\tITER\tCYCLES\tCREATED")
	for _, r := range out.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%.3f\t%d\t%d\t%s\n",
			r.SessionID, r.Status, r.Operation, r.Converged,
			r.OverallConfidence, r.Iterations, r.TotalCycles,
			time.UnixMilli(r.CreatedAt).Format(time.RFC3339))
	}
	return w.Flush()
}

func runGetSession(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: denali session get [session-id]")
	}

	var sess session.Session
	if err := newAPIClient().getJSON(cmd.Context(), "/v1/reasoning/sessions/"+args[0], &sess); err != nil {
		return err
	}
	return printJSON(sess)
}

func runDeleteSession(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: denali session delete [session-id]")
	}

	if err := newAPIClient().delete(cmd.Context(), "/v1/reasoning/sessions/"+args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted session", args[0])
	return nil
}
