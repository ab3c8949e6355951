// Package console runs the assistant in a local terminal session. It sends
// input through the same command handler as Telegram and prints fired
// reminders between prompts.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// Handler answers one line of input.
type Handler interface {
	Handle(ctx context.Context, ownerID int64, text string) string
}

// Console is a readline REPL for a single local owner.
type Console struct {
	ownerID   int64
	rl        *readline.Instance
	formatter *Formatter
	mu        sync.Mutex
}

// New opens the terminal. ownerID identifies the local user in storage.
func New(ownerID int64, formatter *Formatter) (*Console, error) {
	rl, err := setupReadline()
	if err != nil {
		return nil, fmt.Errorf("failed to setup readline: %w", err)
	}
	return &Console{ownerID: ownerID, rl: rl, formatter: formatter}, nil
}

// Run reads lines until EOF, /quit or ctx cancellation.
func (c *Console) Run(ctx context.Context, h Handler, welcome string) error {
	defer c.rl.Close()

	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	c.print(welcome)

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if isEOF(err) || ctx.Err() != nil {
				c.print("\nGoodbye!\n")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "/quit", "/exit", "/q":
			c.print("\nGoodbye!\n")
			return nil
		}

		reply := h.Handle(ctx, c.ownerID, input)
		if reply == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			c.print(c.formatter.FormatSystem(reply) + "\n\n")
		} else {
			c.print("\n" + c.formatter.FormatAssistantMessage(reply) + "\n\n")
		}
	}
}

// Send prints a notification for the local owner. It implements
// delivery.Transport.
func (c *Console) Send(ctx context.Context, ownerID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ownerID != c.ownerID {
		return fmt.Errorf("console cannot reach owner %d", ownerID)
	}
	c.print("\n" + c.formatter.FormatReminder(text) + "\n")
	return nil
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// readline redraws the prompt after writes to its stdout.
	fmt.Fprint(c.rl.Stdout(), s)
}

func setupReadline() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:              "> ",
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
}

func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt)
}
