package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"

	"github.com/martinemde/dinoe/agentloop"
)

// turnRunner is the part of agentloop.Session the terminal front end uses.
type turnRunner interface {
	RunTurn(ctx context.Context, message string) (*agentloop.TurnResult, error)
	Events() <-chan agentloop.SessionEvent
	ID() string
	Close()
}

type chat struct {
	session turnRunner
	out     io.Writer
	stream  bool

	streamed bool // any delta printed this turn
	open     bool // a streamed line awaits its newline
}

func newChat(session turnRunner, out io.Writer, stream bool) *chat {
	return &chat{session: session, out: out, stream: stream}
}

type outcome struct {
	res *agentloop.TurnResult
	err error
}

// turn runs one user message. Events are consumed while the turn runs so
// streamed text reaches the terminal as it arrives.
func (c *chat) turn(ctx context.Context, message string) error {
	c.streamed, c.open = false, false
	done := make(chan outcome, 1)
	go func() {
		res, err := c.session.RunTurn(ctx, message)
		done <- outcome{res, err}
	}()

	events := c.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.show(ev)
		case o := <-done:
			c.drain(events)
			return c.finish(o)
		}
	}
}

// drain shows whatever the session emitted before RunTurn returned.
func (c *chat) drain(events <-chan agentloop.SessionEvent) {
	if events == nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.show(ev)
		default:
			return
		}
	}
}

func (c *chat) show(ev agentloop.SessionEvent) {
	switch ev.Kind {
	case agentloop.EventAssistantTextDelta:
		if !c.stream {
			return
		}
		if d, _ := ev.Data["delta"].(string); d != "" {
			fmt.Fprint(c.out, d)
			c.streamed, c.open = true, true
		}
	case agentloop.EventAssistantTextEnd:
		if c.open {
			fmt.Fprintln(c.out)
			c.open = false
		}
	case agentloop.EventToolCallStart:
		slog.Debug("tool call", "tool", ev.Data["tool_name"], "call_id", ev.Data["call_id"])
	case agentloop.EventToolCallEnd:
		if e, _ := ev.Data["error"].(string); e != "" {
			slog.Debug("tool call failed", "call_id", ev.Data["call_id"], "error", e)
		}
	case agentloop.EventLoopDetected:
		ancli.PrintWarn(fmt.Sprintf("repeated %v call blocked\n", ev.Data["tool_name"]))
	case agentloop.EventCompaction:
		slog.Debug("history compacted", "removed", ev.Data["removed"], "remaining", ev.Data["remaining"])
	case agentloop.EventWarning:
		ancli.PrintWarn(fmt.Sprintf("%v\n", ev.Data["message"]))
	}
}

func (c *chat) finish(o outcome) error {
	if c.open {
		fmt.Fprintln(c.out)
		c.open = false
	}
	if o.err != nil {
		return o.err
	}
	res := o.res
	if res.Limit != nil {
		ancli.PrintWarn(fmt.Sprintf("%v\n", res.Limit))
	}
	if !c.streamed {
		fmt.Fprintln(c.out, res.Text)
	}
	return nil
}

// repl reads one message per line until EOF, exit or quit. A failed turn
// is reported and the session continues; cancellation ends it.
func (c *chat) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "🦖 Dinoe")
	fmt.Fprintln(c.out, "Type your message (Ctrl+D to exit):")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read user input: %w", err)
			}
			fmt.Fprintln(c.out, "\nGoodbye!")
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		err := c.turn(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var agentErr *agentloop.AgentError
			if errors.As(err, &agentErr) && agentErr.Kind == agentloop.TurnInProgress {
				return err
			}
			ancli.PrintErr(fmt.Sprintf("%v\n", err))
		}
	}
}
