package runner

import (
	"log/slog"
	"sync"
)

// ProgressFunc receives the number of finished units, the number of known
// units and the name of the unit just finished. Calls are serialized. Current
// never decreases and total never drops below current.
type ProgressFunc func(current, total int, label string)

// reporter counts completions so the callback sees a monotonic count no matter
// in which order workers finish.
type reporter struct {
	mu      sync.Mutex
	fn      ProgressFunc
	current int
	total   int
	logger  *slog.Logger
	broken  bool
}

func newReporter(fn ProgressFunc, total int, logger *slog.Logger) *reporter {
	return &reporter{fn: fn, total: total, logger: logger}
}

func (p *reporter) grow(n int) {
	p.mu.Lock()
	p.total += n
	p.mu.Unlock()
}

func (p *reporter) step(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	if p.total < p.current {
		p.total = p.current
	}
	p.call(label)
}

func (p *reporter) call(label string) {
	if p.fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && !p.broken {
			p.broken = true
			p.logger.Warn("progress callback panicked", "panic", r)
		}
	}()
	p.fn(p.current, p.total, label)
}
