/**
 * Key-value logging for the meme worker
 *
 * Thin wrapper over the standard logger that renders level + key-value
 * pairs. Components bind stable fields once with With (a client stamps
 * its service URL, a handler its request ID) and every line they emit
 * carries them. Debug lines are dropped unless MEME_DEBUG is set.
 */

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger renders level-tagged key-value lines for one component.
type Logger struct {
	prefix string
	fields string
	logger *log.Logger
	debug  bool
}

// NewLogger creates a logger for a component.
func NewLogger(component string) *Logger {
	return &Logger{
		prefix: component,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", component), log.LstdFlags),
		debug:  os.Getenv("MEME_DEBUG") != "",
	}
}

// With returns a derived logger whose lines all carry the given pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := *l
	child.fields = l.fields + formatKV(keysAndValues)
	return &child
}

// WithRequest returns a derived logger scoped to one request.
func (l *Logger) WithRequest(requestID string) *Logger {
	return l.With("request", requestID)
}

// SetOutput redirects the logger's output stream.
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.write("INFO", msg, keysAndValues)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.write("WARN", msg, keysAndValues)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.write("ERROR", msg, keysAndValues)
}

// Debug logs a debug message; suppressed unless MEME_DEBUG is set.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", msg, keysAndValues)
}

func (l *Logger) write(level, msg string, keysAndValues []interface{}) {
	l.logger.Printf("[%s] %s%s%s", level, msg, l.fields, formatKV(keysAndValues))
}

// formatKV renders pairs as " k=v"; a trailing key without a value is
// kept visible rather than silently dropped.
func formatKV(keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	if len(keysAndValues)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", keysAndValues[len(keysAndValues)-1])
	}
	return b.String()
}
