// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pias-project/pias/solver"
)

// maxVisiblePasses caps the pass list the model retains. Older
// entries scroll off the bottom.
const maxVisiblePasses = 100

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failureStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusBarStyle = lipgloss.NewStyle().Faint(true)
)

// frameMsg wraps a stream frame for the bubbletea loop.
type frameMsg watchFrame

// streamClosedMsg reports that the stream reader stopped.
type streamClosedMsg struct{ err error }

type watchKeyMap struct {
	Quit key.Binding
}

var watchKeys = watchKeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

type watchModel struct {
	passes   []watchOutcome
	caughtUp bool
	closed   bool
	err      error
	width    int
	height   int
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, watchKeys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case frameMsg:
		switch msg.Type {
		case "current", "solution":
			if msg.Solution != nil {
				m.passes = append([]watchOutcome{*msg.Solution}, m.passes...)
				if len(m.passes) > maxVisiblePasses {
					m.passes = m.passes[:maxVisiblePasses]
				}
			}
		case "caught_up":
			m.caughtUp = true
		case "error":
			m.err = fmt.Errorf("stream closed by server: %s", msg.Message)
			return m, tea.Quit
		}
	case streamClosedMsg:
		m.closed = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("pias solver passes"))
	b.WriteString("\n\n")

	if len(m.passes) == 0 {
		if m.caughtUp {
			b.WriteString(dimStyle.Render("no passes yet, waiting for updates"))
		} else {
			b.WriteString(dimStyle.Render("connecting"))
		}
		b.WriteString("\n")
	}

	visible := m.passes
	if rows := max(m.height-4, 0); m.height > 0 && len(visible) > rows {
		visible = visible[:rows]
	}
	for _, pass := range visible {
		result := solver.ExitCode(pass.ExitCode)
		line := fmt.Sprintf("state %-5d %-28s %5d fragments  %s",
			pass.StateID, result, pass.Nodes,
			pass.CompletedAt.Format(time.TimeOnly))
		if result == solver.ExitSuccess {
			b.WriteString(successStyle.Render(line))
		} else {
			b.WriteString(failureStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(watchKeys.Quit.Help().Key + " to quit"))
	b.WriteString("\n")
	return b.String()
}

// watchInteractive runs the bubbletea view over the stream. A reader
// goroutine forwards frames into the program and reports the stream
// ending.
func watchInteractive(ctx context.Context, reader frameReader) error {
	program := tea.NewProgram(watchModel{}, tea.WithContext(ctx))

	go func() {
		for {
			var frame watchFrame
			if err := reader.Next(&frame); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					program.Send(streamClosedMsg{})
				} else {
					program.Send(streamClosedMsg{err: err})
				}
				return
			}
			program.Send(frameMsg(frame))
		}
	}()

	finalModel, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	if m, ok := finalModel.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
