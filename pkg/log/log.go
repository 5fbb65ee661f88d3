// Package log provides leveled, colored console logging. Messages are
// formatted on the caller and handed to a background writer, so logging
// never blocks the caller beyond an enqueue.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the severity of a message. Lower is more severe.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelVerbose
	LevelDebug
)

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelVerbose:
		return "verbose"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// queueSize bounds the number of messages waiting for the writer.
const queueSize = 1024

var (
	red    = color.New(color.FgRed).FprintfFunc()
	yellow = color.New(color.FgYellow).FprintfFunc()
	blue   = color.New(color.FgBlue).FprintfFunc()
	white  = color.New(color.FgWhite).FprintfFunc()
	faint  = color.New(color.Faint).FprintfFunc()
)

type printFunc func(w io.Writer, format string, a ...interface{})

type entry struct {
	print printFunc
	text  string
}

// Logger writes leveled messages to an output writer from a background goroutine.
// A nil *Logger discards everything.
type Logger struct {
	lvl  Level
	out  io.Writer
	file io.WriteCloser

	ch   chan entry
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewLogger creates a logger writing to stderr. Verbose messages are only
// printed if verbose is set.
func NewLogger(verbose bool) *Logger {
	lvl := LevelInfo
	if verbose {
		lvl = LevelVerbose
	}
	return NewLoggerLevel(os.Stderr, lvl)
}

// NewLoggerLevel creates a logger writing all messages up to lvl to w.
func NewLoggerLevel(w io.Writer, lvl Level) *Logger {
	l := &Logger{
		lvl:  lvl,
		out:  w,
		ch:   make(chan entry, queueSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// NewFileLogger is like NewLoggerLevel but also appends uncolored,
// timestamped lines to a size-rotated file at path. The file is closed by
// Close.
func NewFileLogger(w io.Writer, lvl Level, path string) *Logger {
	l := &Logger{
		lvl: lvl,
		out: w,
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		},
		ch:   make(chan entry, queueSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.ch {
		e.print(l.out, "%s", e.text)
		if l.file != nil {
			io.WriteString(l.file, time.Now().Format(time.RFC3339)+" "+e.text)
		}
	}
	if l.file != nil {
		l.file.Close()
	}
}

// Level returns the most verbose level the logger prints.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelError
	}
	return l.lvl
}

// Enabled reports whether messages of the given level are printed.
func (l *Logger) Enabled(lvl Level) bool {
	return l != nil && lvl <= l.lvl
}

// Dropped returns the number of messages discarded because the queue was full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending messages and stops the writer. Messages logged
// afterwards are discarded.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) log(lvl Level, print printFunc, prefix, format string, a ...interface{}) {
	if !l.Enabled(lvl) {
		return
	}

	text := prefix + fmt.Sprintf(format, a...)
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	e := entry{print: print, text: text}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

// ErrorMsg logs an error message in red.
func (l *Logger) ErrorMsg(format string, a ...interface{}) {
	l.log(LevelError, red, "[!] Error: ", format, a...)
}

// WarnMsg logs a warning in yellow.
func (l *Logger) WarnMsg(format string, a ...interface{}) {
	l.log(LevelWarn, yellow, "[!] ", format, a...)
}

// InfoMsg logs an informational message in blue.
func (l *Logger) InfoMsg(format string, a ...interface{}) {
	l.log(LevelInfo, blue, "[+] ", format, a...)
}

// VerboseMsg logs a message that is only interesting with --verbose.
func (l *Logger) VerboseMsg(format string, a ...interface{}) {
	l.log(LevelVerbose, white, "[v] ", format, a...)
}

// DebugMsg logs protocol level details.
func (l *Logger) DebugMsg(format string, a ...interface{}) {
	l.log(LevelDebug, faint, "[d] ", format, a...)
}
