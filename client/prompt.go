package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cyberinferno/primewire/logger"
)

// PromptText is written before every number is read.
const PromptText = "Enter any number : "

// Checker is the part of Client a Prompter drives.
type Checker interface {
	Check(ctx context.Context, n int32) (string, error)
	Close() error
}

// Prompter runs the interactive loop: prompt, read a number, send it,
// print the verdict, until the user enters 0 or input ends.
type Prompter struct {
	checker Checker
	in      *bufio.Scanner
	out     io.Writer
	log     logger.Logger

	tokens  chan string
	scanErr error
}

// NewPrompter creates a Prompter reading whitespace-separated tokens
// from in and writing prompts and verdicts to out.
//
// Parameters:
//   - checker: The connected client
//   - in: Interactive input, usually os.Stdin
//   - out: Where prompts and verdicts go, usually os.Stdout
//   - log: Diagnostics sink; nil discards
//
// Returns:
//   - A new *Prompter
func NewPrompter(checker Checker, in io.Reader, out io.Writer, log logger.Logger) *Prompter {
	if log == nil {
		log = logger.Nop()
	}

	sc := bufio.NewScanner(in)
	sc.Split(bufio.ScanWords)

	return &Prompter{checker: checker, in: sc, out: out, log: log}
}

// Run executes the loop. Entering 0, reaching the end of input or
// cancelling ctx closes the session. Tokens that are not 32-bit integers
// are reported and skipped. Input is read in a separate goroutine so that
// cancellation is noticed even while input blocks; Run must be called at
// most once.
//
// Returns:
//   - nil after a graceful close
//   - ctx.Err() if cancelled, or the first exchange or close error
func (p *Prompter) Run(ctx context.Context) error {
	p.tokens = make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go p.scan(stop)

	for {
		if err := ctx.Err(); err != nil {
			return p.finish(err)
		}

		if _, err := fmt.Fprintln(p.out, PromptText); err != nil {
			return p.finish(fmt.Errorf("write prompt: %w", err))
		}

		n, ok, err := p.next(ctx)
		if err != nil {
			return p.finish(err)
		}

		if !ok {
			p.log.Debug("input ended, closing session")
			return p.finish(nil)
		}

		if n == 0 {
			p.log.Debug("sentinel entered, closing session")
			return p.finish(nil)
		}

		verdict, err := p.checker.Check(ctx, n)
		if err != nil {
			p.log.Error("exchange failed", logger.F("number", n), logger.F("error", err))
			return p.finish(err)
		}

		if _, err := fmt.Fprintln(p.out, verdict); err != nil {
			return p.finish(fmt.Errorf("write verdict: %w", err))
		}
	}
}

// scan feeds input tokens to Run until input ends or stop is closed. A
// goroutine blocked in a read outlives Run until that read returns.
func (p *Prompter) scan(stop <-chan struct{}) {
	defer close(p.tokens)

	for p.in.Scan() {
		select {
		case p.tokens <- p.in.Text():
		case <-stop:
			return
		}
	}

	p.scanErr = p.in.Err()
}

// next returns the next valid number. ok is false when input is exhausted.
func (p *Prompter) next(ctx context.Context) (n int32, ok bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case tok, open := <-p.tokens:
			if !open {
				if p.scanErr != nil {
					return 0, false, fmt.Errorf("read input: %w", p.scanErr)
				}

				return 0, false, nil
			}

			v, err := strconv.ParseInt(tok, 10, 32)
			if err != nil {
				fmt.Fprintf(p.out, "%q is not a 32-bit integer\n", tok)
				fmt.Fprintln(p.out, PromptText)
				continue
			}

			return int32(v), true, nil
		}
	}
}

// finish closes the session and returns cause, or the close error when
// cause is nil.
func (p *Prompter) finish(cause error) error {
	closeErr := p.checker.Close()
	if cause != nil {
		if closeErr != nil {
			p.log.Warn("close after failure", logger.F("error", closeErr))
		}

		return cause
	}

	if closeErr != nil && !errors.Is(closeErr, ErrClosed) {
		return closeErr
	}

	return nil
}
