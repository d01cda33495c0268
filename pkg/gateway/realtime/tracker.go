package realtime

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a live client socket: cancel tears
// it down, warn sends a best-effort status note before shutdown.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Tracker indexes attached WebSocket clients by session so the server can
// count, warn, and drain them on shutdown.
type Tracker struct {
	mu    sync.Mutex
	conns map[string]*trackedConn
	wg    sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]*trackedConn)}
}

func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.conns == nil {
		t.conns = make(map[string]*trackedConn)
	}
	old := t.conns[sessionID]
	t.conns[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedConn) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.conns != nil && t.conns[sessionID] == entry {
			delete(t.conns, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.conns {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.conns {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
