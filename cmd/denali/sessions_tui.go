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
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/Denali/services/reasoning/handlers"
)

const watchPollInterval = 2 * time.Second

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	watchHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("245"))

	watchFooterStyle = lipgloss.NewStyle().
				Faint(true).
				Foreground(lipgloss.Color("245"))

	watchErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	watchStatusColors = map[string]lipgloss.Color{
		"CREATED":   lipgloss.Color("245"),
		"ACTIVE":    lipgloss.Color("42"),
		"COMPLETED": lipgloss.Color("39"),
		"TIMEOUT":   lipgloss.Color("214"),
		"ERROR":     lipgloss.Color("196"),
	}
)

type sessionsMsg sessionListResponse

type watchErrMsg struct{ err error }

type pollTickMsg time.Time

// watchModel is the bubbletea model behind `session list --watch`. It
// polls the list endpoint and redraws the table in an alt screen.
type watchModel struct {
	ctx    context.Context
	client *apiClient
	status string

	spin    spinner.Model
	rows    []handlers.SessionReport
	fetched bool
	err     error
}

func newWatchModel(ctx context.Context, client *apiClient, status string) watchModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))),
	)
	return watchModel{ctx: ctx, client: client, status: status, spin: sp}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		out, err := fetchSessions(m.ctx, m.client, m.status)
		if err != nil {
			return watchErrMsg{err: err}
		}
		return sessionsMsg(out)
	}
}

func pollTick() tea.Cmd {
	return tea.Tick(watchPollInterval, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case sessionsMsg:
		m.rows = msg.Sessions
		m.fetched = true
		m.err = nil
		return m, pollTick()

	case watchErrMsg:
		// Keep the last good table on screen; surface the error in
		// the footer and retry on the next tick.
		m.err = msg.err
		return m, pollTick()

	case pollTickMsg:
		return m, m.fetch()

	default:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
}

func (m watchModel) View() string {
	var b strings.Builder

	title := "DENALI SESSIONS"
	if m.status != "" {
		title += " — " + m.status
	}
	b.WriteString(watchTitleStyle.Render(title))
	b.WriteString("\n\n")

	switch {
	case !m.fetched && m.err != nil:
		b.WriteString(watchErrStyle.Render("cannot reach server: " + m.err.Error()))
		b.WriteString("\n")
	case !m.fetched:
		b.WriteString(m.spin.View() + " connecting...\n")
	case len(m.rows) == 0:
		b.WriteString("No sessions.\n")
	default:
		b.WriteString(watchHeaderStyle.Render(fmt.Sprintf(
			"%-38s %-10s %-10s %-6s %-6s %-6s", "SESSION ID", "STATUS", "OP", "CONF", "ITER", "CYC")))
		b.WriteString("\n")
		for _, r := range m.rows {
			statusStyle := lipgloss.NewStyle().Foreground(watchStatusColors[r.Status])
			b.WriteString(fmt.Sprintf("%-38s %s %-10s %-6.3f %-6d %-6d",
				r.SessionID,
				statusStyle.Render(fmt.Sprintf("%-10s", r.Status)),
				r.Operation, r.OverallConfidence, r.Iterations, r.TotalCycles))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("refreshes every %s • q to quit", watchPollInterval)
	if m.fetched && m.err != nil {
		footer += watchErrStyle.Render("  (last refresh failed: " + m.err.Error() + ")")
	}
	b.WriteString(watchFooterStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

func watchSessions(ctx context.Context, client *apiClient, status string) error {
	p := tea.NewProgram(newWatchModel(ctx, client, status), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
