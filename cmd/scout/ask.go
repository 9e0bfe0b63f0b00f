package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/services"
)

type askOptions struct {
	message        string
	workflow       bool
	conversationID string
	maxSteps       int
	timeout        time.Duration
	quiet          bool
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask the scout a question, once with -m or interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(os.Stderr, cfg, false)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if opts.message != "" {
				return ask(ctx, a.runs, out, opts, opts.message)
			}
			return repl(ctx, a.runs, cmd.InOrStdin(), out, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "question to ask; omit for an interactive session")
	cmd.Flags().BoolVar(&opts.workflow, "workflow", false, "use the planner/executor/reviewer hand-off workflow")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "continue a saved conversation")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "oracle query budget (0 uses the configured default)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "run deadline (0 uses the configured default)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only the final answer")
	return cmd
}

// repl keeps one conversation across questions until "quit" or EOF.
func repl(ctx context.Context, runs *services.RunService, in io.Reader, out io.Writer, opts *askOptions) error {
	if opts.conversationID == "" {
		opts.conversationID = string(domain.NewConversationID())
	}
	fmt.Fprintln(out, "Technology Scout Agent")
	fmt.Fprintln(out, "Type your questions below. Type 'quit' to exit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}
		if err := ask(ctx, runs, out, opts, line); err != nil {
			fmt.Fprintf(out, "\nError: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// ask runs one question and streams its events to out.
func ask(ctx context.Context, runs *services.RunService, out io.Writer, opts *askOptions, task string) error {
	req := services.RunRequest{
		Mode:           domain.RunModeReasoning,
		Task:           task,
		ConversationID: domain.ConversationID(opts.conversationID),
		MaxSteps:       opts.maxSteps,
		Timeout:        opts.timeout,
	}
	if opts.workflow {
		req.Mode = domain.RunModeHandoff
	}

	stream := services.NewEventStream()
	defer stream.Abandon()

	type outcome struct {
		rec domain.RunRecord
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := runs.Execute(ctx, req, stream)
		stream.Close()
		done <- outcome{rec, err}
	}()

	for ev := range stream.Events() {
		if !opts.quiet {
			printEvent(out, ev)
		}
	}
	res := <-done
	if res.rec.ID == "" {
		return res.err
	}

	printFinal(out, res.rec)
	return nil
}

// printEvent renders one run event for a terminal.
func printEvent(out io.Writer, ev domain.RunEvent) {
	switch ev.Kind {
	case domain.EventAgentSwitch:
		bar := strings.Repeat("=", 50)
		fmt.Fprintf(out, "\n%s\n🤖 Agent: %s\n%s\n\n", bar, ev.Agent, bar)
	case domain.EventModelOutput:
		if text := strings.TrimSpace(ev.Text); text != "" {
			fmt.Fprintln(out, "📤 Output:", text)
		}
	case domain.EventToolCallStarted:
		fmt.Fprintf(out, "🔨 Calling Tool: %s\n", ev.Tool)
		fmt.Fprintf(out, "  With arguments: %s\n", formatArgs(ev.Args))
	case domain.EventToolCallFinished:
		label := "Tool Result"
		if ev.IsError {
			label = "Tool Error"
		}
		fmt.Fprintf(out, "🔧 %s (%s):\n", label, ev.Tool)
		fmt.Fprintf(out, "  Arguments: %s\n", formatArgs(ev.Args))
		fmt.Fprintf(out, "  Output: %s\n", ev.Output)
	case domain.EventRunFinished:
		fmt.Fprintf(out, "\n✅ Run finished (%s)\n", ev.Status)
	}
}

func printFinal(out io.Writer, rec domain.RunRecord) {
	switch rec.Status {
	case domain.RunStatusCompleted:
		fmt.Fprintf(out, "\nAgent: %s\n", rec.FinalText)
	case domain.RunStatusStepLimit:
		fmt.Fprintf(out, "\nAgent (step limit reached): %s\n", rec.FinalText)
	default:
		fmt.Fprintf(out, "\nRun %s: %s\n", rec.Status, rec.Error)
	}
	if rec.ConversationID != "" {
		fmt.Fprintf(out, "(conversation %s, run %s)\n", rec.ConversationID, rec.ID)
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
