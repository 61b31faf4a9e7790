package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/calbot/calbot/pkg/bus"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/session"
)

func newChatCommand(configPath *string) *cobra.Command {
	var (
		message   string
		sessionID string
		seedDemo  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long:  "Run an interactive local session, or send a one-shot message with --message.",
		Example: strings.Join([]string{
			"  calbot chat",
			"  calbot chat --seed-demo",
			"  calbot chat --message \"what's on my calendar tomorrow?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if seedDemo {
				seedDemoCalendar(rt.calendar)
			}

			if sessionID == "" {
				sessionID = "cli:" + uuid.NewString()
			}

			if strings.TrimSpace(message) != "" {
				return runOneShot(rt, sessionID, message)
			}
			return runREPL(rt, sessionID)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id for continuity (default: fresh)")
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "Seed the in-memory calendar with sample events")
	return cmd
}

// seedDemoCalendar fills the local calendar so conflict flows can be tried
// without linking a real account.
func seedDemoCalendar(calendar *ports.MemoryCalendar) {
	now := time.Now()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local).AddDate(0, 0, 1)

	calendar.Seed(ports.Event{
		AccountID: "personal",
		Title:     "Gym session",
		Start:     tomorrow.Add(7 * time.Hour),
		End:       tomorrow.Add(8 * time.Hour),
	})
	calendar.Seed(ports.Event{
		AccountID: "work",
		Title:     "Team standup",
		Start:     tomorrow.Add(9*time.Hour + 30*time.Minute),
		End:       tomorrow.Add(10 * time.Hour),
	})
	calendar.Seed(ports.Event{
		AccountID: "work",
		Title:     "Design review",
		Start:     tomorrow.Add(15 * time.Hour),
		End:       tomorrow.Add(16 * time.Hour),
	})
	fmt.Println("Seeded demo calendar: gym at 7am, standup at 9:30am, design review at 3pm (tomorrow).")
}

func runOneShot(rt *runtime, sessionID, message string) error {
	stopProgress := streamProgress(rt.events, sessionID)
	defer stopProgress()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := rt.loop.ProcessMessage(ctx, sessionID, message, defaultAccounts())
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	return nil
}

func runREPL(rt *runtime, sessionID string) error {
	historyFile := filepath.Join(os.TempDir(), "calbot_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	stopProgress := streamProgress(rt.events, sessionID)
	defer stopProgress()

	fmt.Println("calbot ready. Type a message, or /quit to exit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		result, err := rt.loop.ProcessMessage(ctx, sessionID, line, defaultAccounts())
		cancel()

		if errors.Is(err, session.ErrSessionBusy) {
			fmt.Println("calbot> still working on the previous message, hold on.")
			continue
		}
		if err != nil {
			fmt.Printf("calbot> error: %v\n", err)
			continue
		}
		fmt.Printf("calbot> %s\n", result.Content)
	}
}

// streamProgress prints progress events as they happen so the terminal shows
// what the assistant is doing between question and answer.
func streamProgress(events *bus.EventBus, sessionID string) func() {
	ch, cancel := events.Subscribe(sessionID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range ch {
			if event.Type == bus.EventProgress && event.Content != "" {
				fmt.Printf("  · %s\n", event.Content)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
