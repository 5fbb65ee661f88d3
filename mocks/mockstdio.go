// Package mocks provides mock implementations for testing.
package mocks

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockStdio is an in-memory terminal for command tests. Input is written
// line by line while the command runs, output is collected and can be
// awaited.
type MockStdio struct {
	inR *io.PipeReader
	inW *io.PipeWriter

	mu      sync.Mutex
	out     bytes.Buffer
	changed chan struct{} // closed and replaced on every write to out
}

// NewMockStdio creates a mock terminal with empty input.
func NewMockStdio() *MockStdio {
	r, w := io.Pipe()
	return &MockStdio{inR: r, inW: w, changed: make(chan struct{})}
}

// WriteLine sends line and a newline to the command's stdin. It blocks until
// the command reads it.
func (m *MockStdio) WriteLine(line string) error {
	_, err := io.WriteString(m.inW, line+"\n")
	return err
}

// CloseInput signals the end of input to the command.
func (m *MockStdio) CloseInput() error {
	return m.inW.Close()
}

// Stdin returns the reader the command reads from. It matches
// config.StdinFunc.
func (m *MockStdio) Stdin() io.Reader {
	return m.inR
}

// Stdout returns the writer the command writes to. It matches
// config.StdoutFunc.
func (m *MockStdio) Stdout() io.Writer {
	return stdoutWriter{m}
}

// Output returns everything written so far.
func (m *MockStdio) Output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.String()
}

// WaitForOutput waits until the output contains want.
func (m *MockStdio) WaitForOutput(want string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		got := m.out.String()
		changed := m.changed
		m.mu.Unlock()

		if strings.Contains(got, want) {
			return nil
		}
		select {
		case <-changed:
		case <-deadline.C:
			return fmt.Errorf("timeout waiting for output %q, got: %q", want, got)
		}
	}
}

type stdoutWriter struct{ m *MockStdio }

func (w stdoutWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	n, err := w.m.out.Write(p)
	close(w.m.changed)
	w.m.changed = make(chan struct{})
	return n, err
}
