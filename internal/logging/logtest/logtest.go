// Package logtest builds loggers for tests.
package logtest

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/tahsin716/fjpool/internal/logging"
)

// New returns a logger that writes through t at TRACE verbosity. Lines
// logged after t's cleanups have run are dropped, since pool workers may
// still log while they exit.
func New(t testing.TB) logr.Logger {
	st := &stoppableT{TB: t}
	t.Cleanup(st.stop)
	z := zaptest.NewLogger(st, zaptest.Level(zapcore.Level(-logging.TRACE)))
	return zapr.NewLogger(z)
}

type stoppableT struct {
	testing.TB

	mu      sync.RWMutex
	stopped bool
}

func (s *stoppableT) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *stoppableT) Logf(format string, args ...any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stopped {
		s.TB.Logf(format, args...)
	}
}

func (s *stoppableT) Errorf(format string, args ...any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stopped {
		s.TB.Errorf(format, args...)
	}
}
