package logging

import (
	"fmt"
	"io"
	"strings"
)

// New builds the Logger selected by format: "json" (default) and "text" use
// slog, "zap" and "zap-dev" use zap. Output of the slog variants goes to w;
// zap always writes to stderr.
func New(w io.Writer, format, level string) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return NewSlogJSON(w, level), nil
	case "text":
		return NewSlogText(w, level), nil
	case "zap", "zap-dev":
		l, err := NewZapProduction(level, format == "zap-dev")
		if err != nil {
			return nil, fmt.Errorf("zap init: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
