// Package console runs the bot against a terminal, for trying commands
// without a phone. Lines typed are messages; "!image <path> [note]" sends a
// local photo.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/bborn/textline/internal/bot"
)

const imagePrefix = "!image "

type Handler interface {
	Handle(ctx context.Context, msg bot.Inbound) string
}

// LineReader is satisfied by *readline.Instance
type LineReader interface {
	Readline() (string, error)
}

type Channel struct {
	mu   sync.Mutex
	out  io.Writer
	from string
}

// New writes replies to out on behalf of the sender identity from
func New(out io.Writer, from string) *Channel {
	if from == "" {
		from = "console"
	}
	return &Channel{out: out, from: from}
}

func (c *Channel) Name() string { return "console" }

func (c *Channel) Send(_ context.Context, to, _ string, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", to, body)
	return err
}

// FetchMedia reads a local file
func (c *Channel) FetchMedia(_ context.Context, path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

// Run feeds each line to h until the reader ends or is interrupted
func (c *Channel) Run(ctx context.Context, lines LineReader, h Handler) error {
	for {
		line, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if reply := h.Handle(ctx, c.Inbound(line)); reply != "" {
			if err := c.Send(ctx, c.from, "", reply); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) Inbound(line string) bot.Inbound {
	msg := bot.Inbound{Channel: c.Name(), From: c.from, Body: line}
	if rest, ok := strings.CutPrefix(line, imagePrefix); ok {
		path, note, _ := strings.Cut(strings.TrimSpace(rest), " ")
		msg.Body = strings.TrimSpace(note)
		msg.MediaURL = path
		msg.MediaType = "image/jpeg"
	}
	return msg
}
