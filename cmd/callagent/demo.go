package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/callagent/internal/app"
	"github.com/MrWong99/callagent/internal/call"
)

// scriptedReplies is what the HR representative says in an unattended demo.
var scriptedReplies = []string{
	"Hi, yes, how can I help you?",
	"Yes, we have two openings for senior software engineers.",
	"We're looking for candidates with 5+ years of experience in Python and React, and experience with cloud platforms.",
	"Candidates can apply through our careers page on our website, or send their resume to jobs@company.com.",
	"Thank you for calling. Have a great day!",
}

// quitWords end an interactive demo without sending the line to the agent.
var quitWords = []string{"quit", "exit", "bye", "goodbye"}

const rule = "============================================================"

func newDemoCmd(g *globals) *cobra.Command {
	var (
		scripted bool
		audioDir string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Place a call from the terminal, typing the HR side",
		Long: `demo runs one call in the terminal. The agent speaks first; type the HR
representative's replies. quit, exit, bye or goodbye end the call. With
--scripted a fixed set of HR replies is played instead.

The call is summarized and stored like any other, flagged test_mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			providers, err := buildProviders(cfg)
			if err != nil {
				return fmt.Errorf("build providers: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, providers)
			if err != nil {
				return fmt.Errorf("initialise application: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = application.Shutdown(sctx)
			}()

			d := &demo{
				sessions: application.Sessions(),
				in:       bufio.NewScanner(cmd.InOrStdin()),
				out:      cmd.OutOrStdout(),
				audioDir: audioDir,
			}
			if scripted {
				d.replies = slices.Clone(scriptedReplies)
			}
			_, err = d.run(ctx)
			if err == nil {
				fmt.Fprintf(d.out, "Data saved to: %s/\n", cfg.Storage.DataDir)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&scripted, "scripted", false, "play the built-in HR replies instead of reading stdin")
	cmd.Flags().StringVar(&audioDir, "audio-dir", "", "write each synthesized agent line as a WAV file into this directory")
	return cmd
}

// demo drives one call through a [app.SessionManager] from a line-oriented
// console.
type demo struct {
	sessions *app.SessionManager
	in       *bufio.Scanner
	out      io.Writer

	// replies, when non-nil, replaces reading from in.
	replies []string

	// audioDir receives reply-NN.wav files when set.
	audioDir string
	spoken   int
}

func (d *demo) run(ctx context.Context) (call.ArchiveResult, error) {
	d.println(rule)
	d.println("AI CALLING AGENT - COMMAND LINE DEMO")
	d.println(rule)
	d.println("")

	id := uuid.NewString()
	start := time.Now()
	_, opening, err := d.sessions.Open(ctx, id, call.WithFlags(map[string]bool{"test_mode": true}))
	if err != nil {
		return call.ArchiveResult{}, fmt.Errorf("start call: %w", err)
	}
	d.speak(opening)

	s, err := d.sessions.Get(id)
	if err != nil {
		return call.ArchiveResult{}, err
	}
	for exchange := 1; ; exchange++ {
		line, ok := d.next(exchange)
		if !ok {
			break
		}
		out, err := s.SubmitText(ctx, line)
		if err != nil {
			return call.ArchiveResult{}, err
		}
		if out.Kind == call.Rejected {
			d.println("[WARN] No input detected, please try again.")
			exchange--
			continue
		}
		if out.Kind == call.AgentReplied {
			d.speak(out.Reply)
		}
		if out.Terminated {
			d.printf("[OK] Conversation completed (%s)\n", out.EndReason)
			break
		}
	}

	d.println(rule)
	d.println("CALL ENDED")
	d.println(rule)
	d.println("Generating call summary...")

	res, err := d.sessions.Close(ctx, id)
	if res.Summary.Text != "" {
		d.println("")
		d.println(res.Summary.Text)
		d.println("")
		d.printf("Duration: %d seconds\n", int(time.Since(start).Seconds()))
		d.printf("Exchanges: %d\n", res.Summary.TotalExchanges)
		d.printf("Stages completed: %d\n", res.Summary.StagesCompleted)
	}
	if res.CallID == "" {
		return res, fmt.Errorf("archive call: %w", err)
	}
	d.printf("[OK] Call saved with ID: %s\n", res.CallID)
	if err != nil {
		d.printf("[WARN] %v\n", err)
	}
	return res, nil
}

// next returns the counterpart's next line. ok is false when the call should
// end: the script ran out, input closed, or a quit word was typed.
func (d *demo) next(exchange int) (string, bool) {
	if d.replies != nil {
		if len(d.replies) == 0 {
			return "", false
		}
		line := d.replies[0]
		d.replies = d.replies[1:]
		d.printf("[EXCHANGE %d]\n[HR REP] %s\n", exchange, line)
		return line, true
	}

	for {
		d.println("You (type your response, or 'quit' to end):")
		d.printf("   > ")
		if !d.in.Scan() {
			return "", false
		}
		line := strings.TrimSpace(d.in.Text())
		if line == "" {
			d.println("[WARN] No input detected, please try again.")
			continue
		}
		if slices.Contains(quitWords, strings.ToLower(line)) {
			d.println("Ending call...")
			return "", false
		}
		return line, true
	}
}

func (d *demo) speak(t call.AgentTurn) {
	d.printf("AI: %s\n\n", t.Text)
	if d.audioDir == "" || len(t.Audio) == 0 {
		return
	}
	d.spoken++
	path := filepath.Join(d.audioDir, fmt.Sprintf("reply-%02d.wav", d.spoken))
	if err := os.WriteFile(path, t.Audio, 0o644); err != nil {
		d.printf("[WARN] could not write %s: %v\n", path, err)
	}
}

func (d *demo) println(s string)            { fmt.Fprintln(d.out, s) }
func (d *demo) printf(f string, args ...any) { fmt.Fprintf(d.out, f, args...) }
