package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/querymesh"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/sink"
)

var errQueryFailed = errors.New("query did not succeed")

func queryCmd() *cobra.Command {
	var (
		connectionID int64
		sessionID    string
		feedback     bool
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer one question and stream the run to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mesh, err := openMesh()
			if err != nil {
				return err
			}
			defer mesh.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			req := querymesh.Request{
				Query:               strings.Join(args, " "),
				SessionID:           sessionID,
				UserFeedbackEnabled: feedback,
			}
			if cmd.Flags().Changed("connection") {
				req.ConnectionID = &connectionID
			}
			if feedback {
				req.Feedback = stdinFeedback(cmd.InOrStdin(), cmd.ErrOrStderr())
			}

			callback := printer(out)
			if jsonOut {
				callback = sink.JSONLines(out, mesh.Logger())
			}

			res, err := mesh.Query(ctx, req, callback)
			if err != nil {
				return err
			}
			if res.Final == nil || res.Final.Type != core.StreamTypeSuccess {
				return fmt.Errorf("%w (state %s)", errQueryFailed, res.State)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&connectionID, "connection", 0, "connection id (default: configured default)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().BoolVar(&feedback, "feedback", false, "allow stages to ask clarifying questions on stdin")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

// printer renders events for a terminal. Partial chunks are printed inline.
func printer(w io.Writer) core.StreamCallback {
	return func(_ core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
		if msg.Partial {
			fmt.Fprint(w, msg.Content)
			return
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", msg.Type, msg.Source, msg.Content)
		if msg.IsFinal && msg.Result != nil {
			data, err := json.MarshalIndent(msg.Result, "", "  ")
			if err == nil {
				fmt.Fprintln(w, string(data))
			}
		}
	}
}

func stdinFeedback(in io.Reader, prompt io.Writer) func(ctx context.Context, question string) (string, error) {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, question string) (string, error) {
		fmt.Fprintf(prompt, "%s\n> ", question)
		type line struct {
			text string
			err  error
		}
		ch := make(chan line, 1)
		go func() {
			text, err := reader.ReadString('\n')
			ch <- line{strings.TrimSpace(text), err}
		}()
		select {
		case l := <-ch:
			if l.err != nil && l.text == "" {
				return "", l.err
			}
			return l.text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
