package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options controls the CLI logger. Logs always go to Out (stderr by default) so
// emitted documents on stdout stay clean.
type Options struct {
	Level string
	JSON  bool
	Out   io.Writer
}

// New returns a zap-backed logr.Logger for the given level string. Debug also
// enables V(1) detail.
func New(opts Options) (logr.Logger, error) {
	crOpts := crzap.Options{Development: !opts.JSON}
	var zapLevel zapcore.Level
	switch strings.ToLower(strings.TrimSpace(opts.Level)) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", opts.Level)
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	crOpts.Level = &atomic
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return crzap.New(crzap.UseFlagOptions(&crOpts), crzap.WriteTo(out)), nil
}
