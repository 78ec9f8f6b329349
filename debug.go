package wwd

import (
	"context"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 1

func (h *Host) logerr(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelError, msg, attrs...)
}

func (h *Host) warn(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelWarn, msg, attrs...)
}

func (h *Host) info(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelInfo, msg, attrs...)
}

func (h *Host) debug(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelDebug, msg, attrs...)
}

func (h *Host) trace(msg string, attrs ...slog.Attr) {
	if h._traceenabled {
		h.logattrs(levelTrace, msg, attrs...)
	}
}

func (h *Host) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if h.logger != nil {
		h.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

// fatal logs msg and panics. It marks driver requests the host cannot honor.
func (h *Host) fatal(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelError, msg, attrs...)
	panic("wwd: " + msg)
}
