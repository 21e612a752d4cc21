package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped log lines to a file under logs/.
// A logger whose file could not be opened silently drops lines;
// logging must never take the bot down.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewLogger creates a logger that appends to the given file, creating
// parent directories as needed.
func NewLogger(path string) *Logger {
	l := &Logger{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return l
	}

	l.file = f
	return l
}

// Path returns the log file path (for tools to read).
func (l *Logger) Path() string { return l.path }

// Printf writes a timestamped log line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(l.file, ts+" "+format+"\n", args...)
}

// Close closes the log file.
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}
