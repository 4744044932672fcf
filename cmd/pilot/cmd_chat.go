package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ctxpilot/cmd/pilot/chat"
	"ctxpilot/cmd/pilot/ui"
	"ctxpilot/internal/logging"
)

// runChat starts the interactive chat interface. The session loop runs in
// its own goroutine; on exit the session is saved once more.
func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	feed := chat.NewFeed()
	a, err := openApp(ctx, feed.Publish)
	if err != nil {
		return err
	}
	defer a.Close()

	if resume {
		if err := a.resumeLatest(ctx); err != nil {
			return err
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.session.Run(ctx) }()

	p := tea.NewProgram(chat.New(a.session, feed, ui.DefaultStyles()), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	cancel()
	feed.Close()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.SessionWarn("session loop stopped: %v", runErr)
	}
	if a.db != nil {
		if id, serr := a.session.Save(context.Background(), "exit"); serr != nil {
			logging.SessionWarn("save on exit: %v", serr)
		} else {
			logging.Session("saved snapshot %s on exit", id)
		}
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
