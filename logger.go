package httpcache

import "log/slog"

// logger returns t's configured logger, falling back to slog.Default() so
// a zero-value or nil Transport is always safe to log through.
func (t *Transport) logger() *slog.Logger {
	if t == nil || t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
