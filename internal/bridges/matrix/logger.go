package matrix

import "sync"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// logHolder guards an optional Logger. Components embed it so SetLogger can
// be called at any time from any goroutine.
type logHolder struct {
	mu     sync.RWMutex
	logger Logger
}

// SetLogger sets the logger for this component.
func (h *logHolder) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *logHolder) get() Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger
}

func (h *logHolder) logDebug(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (h *logHolder) logInfo(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (h *logHolder) logWarn(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (h *logHolder) logError(msg string, err error, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
