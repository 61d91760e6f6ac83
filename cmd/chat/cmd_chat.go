package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/session"
)

// echoStreamer prints fragments as they arrive before handing them to the reducer.
type echoStreamer struct {
	next session.Streamer
	out  io.Writer
}

func (e echoStreamer) Stream(ctx context.Context, req session.Request, onFragment func(string)) error {
	return e.next.Stream(ctx, req, func(fragment string) {
		if !chat.IsSentinel(fragment) {
			fmt.Fprint(e.out, fragment)
		}
		onFragment(fragment)
	})
}

// asker is the non-streaming half of the client.
type asker interface {
	Ask(ctx context.Context, req session.Request) (string, error)
}

// singleShot answers with one completion, delivered as a single fragment and the sentinel.
type singleShot struct {
	client asker
}

func (s singleShot) Stream(ctx context.Context, req session.Request, onFragment func(string)) error {
	text, err := s.client.Ask(ctx, req)
	if err != nil {
		return err
	}
	onFragment(text)
	onFragment(chat.StreamSentinel)
	return nil
}

func newSession(ctx context.Context, loader session.HistoryLoader) (*session.Session, error) {
	s := session.New("", nil)
	s.Model = model
	s.MaxTokens = maxTokens
	s.APIKey = apiKey
	if conversationID != "" {
		if err := s.Switch(ctx, loader, conversationID); err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
		}
	}
	return s, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := newClient()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	var next session.Streamer = c
	if noStream {
		next = singleShot{client: c}
	}
	out := cmd.OutOrStdout()
	if err := s.Send(ctx, echoStreamer{next: next, out: out}, strings.Join(args, " ")); err != nil {
		fmt.Fprintln(out)
		return err
	}
	fmt.Fprintln(out)
	return nil
}

func runRepl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := newClient()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, t := range s.Reducer().Transcript() {
		fmt.Fprintf(out, "%s: %s\n", t.Role, t.Content)
	}
	fmt.Fprintln(out, "type /switch <conversation-id> to change conversation, /quit to exit")

	streamer := echoStreamer{next: c, out: out}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/switch"):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch"))
			if err := s.Switch(ctx, c, id); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "switched to %q (%d turns)\n", id, len(s.Reducer().Transcript()))
			continue
		}

		sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := s.Send(sendCtx, streamer, line)
		stop()
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
