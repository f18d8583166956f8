// Package logging routes every diagnostic in the tree through one
// structured logger, github.com/gookit/slog, instead of the standard
// library's log package.
package logging

import (
	"fmt"
	"os"

	"github.com/gookit/slog"
)

// Configure wires the process-wide default logger once, at CLI startup.
// Debug/trace raise the level so per-row detail (prepared-statement
// shapes, bulk-IN padding, etc.) shows; color is disabled for
// batch/non-TTY runs.
func Configure(debug, trace bool) {
	slog.Configure(func(l *slog.SugaredLogger) {
		switch {
		case trace:
			l.Level = slog.TraceLevel
		case debug:
			l.Level = slog.DebugLevel
		default:
			l.Level = slog.InfoLevel
		}
		if f, ok := l.Formatter.(*slog.TextFormatter); ok {
			f.EnableColor = isTerminal(os.Stdout)
		}
	})
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func Tracef(format string, args ...any) { slog.Tracef(format, args...) }
func Debugf(format string, args ...any) { slog.Debugf(format, args...) }
func Infof(format string, args ...any)  { slog.Infof(format, args...) }
func Warnf(format string, args ...any)  { slog.Warnf(format, args...) }
func Errorf(format string, args ...any) { slog.Errorf(format, args...) }

// Fatalf logs at error level and panics with a *FatalError carrying exit
// code 100, the generic fatal code. Use FatalCodef for a caller-chosen
// exit code.
func Fatalf(format string, args ...any) {
	FatalCodef(100, format, args...)
}

// FatalCodef logs at error level and panics with a *FatalError rather
// than calling os.Exit directly — the CLI layer recovers this at the
// top of main() and maps Code onto the process exit code, so library
// code never terminates the process itself.
func FatalCodef(code int, format string, args ...any) {
	slog.Errorf(format, args...)
	panic(&FatalError{Message: fmt.Sprintf(format, args...), Code: code})
}

// FatalError is what Fatalf/FatalCodef panics with.
type FatalError struct {
	Message string
	Code    int
}

func (e *FatalError) Error() string { return e.Message }
