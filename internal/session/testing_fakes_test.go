package session

import (
	"sync"

	nconfig "github.com/rkeytacked/nakadi/internal/config"
	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/rebalance"
	"github.com/rkeytacked/nakadi/internal/topology"
)

type fakeOutput struct {
	mu     sync.Mutex
	errs   []error
	closed int
}

func (f *fakeOutput) WriteError(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
	return nil
}

func (f *fakeOutput) WriteClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeOutput) errCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func (f *fakeOutput) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestContext(subscriptionID string, sessionID topology.SessionID, store coordination.Store, out *fakeOutput) *Context {
	cfg := nconfig.Default()
	cfg.TaskQueueIdleTimeout = 0 // New() clamps <=0 to 1h default internally
	sess := topology.Session{ID: sessionID, CommitTimeoutMS: 1000}
	return NewContext(subscriptionID, sess, store, topology.SimpleCursorConverter{}, rebalance.RoundRobin{}, out, cfg)
}
