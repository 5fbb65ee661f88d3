// Package terminal reads interactive input line by line.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// Prompt is printed before each line when input comes from a terminal.
const Prompt = "> "

// IsTerminal reports whether r is an interactive terminal.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ReadLines calls fn for every line read from in until in is exhausted, fn
// returns an error or ctx is done. Reading is canceled when ctx is done if
// the platform supports it. A prompt is written to out before every line if
// in is a terminal. io.EOF returned by fn ends reading without an error.
func ReadLines(ctx context.Context, in io.Reader, out io.Writer, fn func(line string) error) error {
	r := in
	if cr, err := cancelreader.NewReader(in); err == nil {
		r = cr
		stop := context.AfterFunc(ctx, func() { cr.Cancel() })
		defer stop()
		defer cr.Close()
	}

	prompt := IsTerminal(in) && out != nil
	sc := bufio.NewScanner(r)
	for {
		if prompt {
			fmt.Fprint(out, Prompt)
		}
		if !sc.Scan() {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}

	if err := sc.Err(); err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
