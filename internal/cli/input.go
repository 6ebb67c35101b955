// Package cli handles cmd line input and suggestions for DBG and testing the provider
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

// VisitRecorder remembers searches typed in the CLI.
type VisitRecorder interface {
	AddVisit(term, url string, when time.Time)
}

// InputHandler reads lines from stdin and replays each one as a sequence of
// keystrokes, then prints the matches of the last keystroke once the provider
// has heard back from every source or the wait runs out.
type InputHandler struct {
	provider *suggest.Provider
	visits   VisitRecorder
	keyword  string
	limit    int
	wait     time.Duration
	reader   *bufio.Reader
	out      io.Writer
}

// NewInputHandler handles initialization of the InputHandler with basic parameters
func NewInputHandler(provider *suggest.Provider, visits VisitRecorder, keyword string, limit int, wait time.Duration) *InputHandler {
	return NewInputHandlerWithIO(provider, visits, keyword, limit, wait, os.Stdin, os.Stdout)
}

// NewInputHandlerWithIO is NewInputHandler reading from r and printing to w.
func NewInputHandlerWithIO(provider *suggest.Provider, visits VisitRecorder, keyword string, limit int, wait time.Duration, r io.Reader, w io.Writer) *InputHandler {
	return &InputHandler{
		provider: provider,
		visits:   visits,
		keyword:  keyword,
		limit:    limit,
		wait:     wait,
		reader:   bufio.NewReader(r),
		out:      w,
	}
}

// Start begins the interface loop. It returns nil at the end of input.
func (h *InputHandler) Start(ctx context.Context) error {
	defer h.provider.Close()
	log.Print("omnisuggest CLI [BETA]")
	log.Print("type a query and press Enter to see the suggestions (Ctrl+C to exit):")

	for {
		fmt.Fprint(h.out, promptStyle.Render("> "))
		line, err := h.reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			h.handleInput(ctx, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleInput types line one character at a time and prints the final matches.
func (h *InputHandler) handleInput(ctx context.Context, line string) suggest.Update {
	start := time.Now()
	var u suggest.Update
	runes := []rune(line)
	for i := 1; i <= len(runes); i++ {
		u = h.provider.Start(ctx, suggest.Input{Text: string(runes[:i]), Keyword: h.keyword})
	}
	log.Debugf("Typed %d keystrokes for '%s'", len(runes), line)

	waitCtx, cancel := context.WithTimeout(ctx, h.wait)
	defer cancel()
	for !u.Done {
		next, err := h.provider.Next(waitCtx)
		if err != nil {
			log.Warnf("Stopped waiting for suggestions after %v: %v", time.Since(start).Round(time.Millisecond), err)
			break
		}
		u = next
	}

	fmt.Fprintln(h.out, renderUpdate(line, u, h.limit, time.Since(start)))

	if h.visits != nil {
		h.visits.AddVisit(line, "", time.Now())
	}
	return u
}
