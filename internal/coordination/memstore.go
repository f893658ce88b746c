package coordination

import (
	"sync"

	"github.com/rkeytacked/nakadi/internal/streamerr"
	"github.com/rkeytacked/nakadi/internal/topology"
)

// MemStore is an in-memory Store used by tests and local/offline runs. Watch
// delivery is always pushed to its own goroutine so callers cannot
// accidentally rely on in-task delivery, matching the real backend's
// "unspecified thread" contract.
type MemStore struct {
	mu sync.Mutex

	topologies map[string]topology.Topology
	offsets    map[string]map[topology.EventTypePartition]string
	sessions   map[string]map[topology.SessionID]topology.Session

	topologyWatchers map[string][]*memListener
	offsetWatchers   map[string]map[topology.EventTypePartition][]*memListener
	sessionWatchers  map[string][]*memListener
	locks            map[string]*sync.Mutex
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		topologies:         make(map[string]topology.Topology),
		offsets:            make(map[string]map[topology.EventTypePartition]string),
		sessions:           make(map[string]map[topology.SessionID]topology.Session),
		topologyWatchers: make(map[string][]*memListener),
		offsetWatchers:   make(map[string]map[topology.EventTypePartition][]*memListener),
		sessionWatchers:  make(map[string][]*memListener),
		locks:            make(map[string]*sync.Mutex),
	}
}

type memListener struct {
	mu     sync.Mutex
	closed bool
	fire   func()
}

func (l *memListener) notify() {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	go l.fire()
}

func (l *memListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

type topologyListener struct {
	*memListener
	store          *MemStore
	subscriptionID string
}

func (l *topologyListener) Refresh() (any, error) {
	return l.store.ListPartitions(l.subscriptionID)
}

type offsetListener struct {
	*memListener
	store          *MemStore
	subscriptionID string
	key            topology.EventTypePartition
}

func (l *offsetListener) Refresh() (any, error) {
	return l.store.GetOffset(l.subscriptionID, l.key)
}

type sessionListener struct {
	*memListener
	store          *MemStore
	subscriptionID string
}

func (l *sessionListener) Refresh() (any, error) {
	return l.store.ListSessions(l.subscriptionID)
}

func (s *MemStore) SubscribeForTopologyChanges(subscriptionID string, handler TopologyHandler) (ListenerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ml := &memListener{fire: handler}
	s.topologyWatchers[subscriptionID] = append(s.topologyWatchers[subscriptionID], ml)
	return &topologyListener{memListener: ml, store: s, subscriptionID: subscriptionID}, nil
}

func (s *MemStore) SubscribeForOffsetChanges(subscriptionID string, key topology.EventTypePartition, handler OffsetHandler) (ListenerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offsetWatchers[subscriptionID] == nil {
		s.offsetWatchers[subscriptionID] = make(map[topology.EventTypePartition][]*memListener)
	}
	ml := &memListener{fire: handler}
	s.offsetWatchers[subscriptionID][key] = append(s.offsetWatchers[subscriptionID][key], ml)
	return &offsetListener{memListener: ml, store: s, subscriptionID: subscriptionID, key: key}, nil
}

func (s *MemStore) SubscribeForSessionListChanges(subscriptionID string, handler SessionListHandler) (ListenerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ml := &memListener{fire: handler}
	s.sessionWatchers[subscriptionID] = append(s.sessionWatchers[subscriptionID], ml)
	return &sessionListener{memListener: ml, store: s, subscriptionID: subscriptionID}, nil
}

func (s *MemStore) GetOffset(subscriptionID string, key topology.EventTypePartition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[subscriptionID][key], nil
}

func (s *MemStore) RegisterSession(subscriptionID string, session topology.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[subscriptionID] == nil {
		s.sessions[subscriptionID] = make(map[topology.SessionID]topology.Session)
	}
	s.sessions[subscriptionID][session.ID] = session
	s.notifySessionsLocked(subscriptionID)
	return nil
}

func (s *MemStore) UnregisterSession(subscriptionID string, sessionID topology.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[subscriptionID], sessionID)
	s.notifySessionsLocked(subscriptionID)
	return nil
}

func (s *MemStore) ListSessions(subscriptionID string) ([]topology.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]topology.Session, 0, len(s.sessions[subscriptionID]))
	for _, sess := range s.sessions[subscriptionID] {
		out = append(out, sess)
	}
	return out, nil
}

func (s *MemStore) ListPartitions(subscriptionID string) (topology.Topology, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topologies[subscriptionID], nil
}

func (s *MemStore) UpdatePartitionsConfiguration(subscriptionID string, changes []PartitionChange) error {
	s.mu.Lock()
	top := s.topologies[subscriptionID]
	byKey := make(map[topology.EventTypePartition]topology.Partition, len(top.Partitions))
	for _, p := range top.Partitions {
		byKey[p.Key] = p
	}
	for _, c := range changes {
		byKey[c.Key] = topology.Partition{Key: c.Key, Session: c.Session, State: c.State}
	}
	out := make([]topology.Partition, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	top.Partitions = out
	top.Version++
	s.topologies[subscriptionID] = top
	s.mu.Unlock()

	s.notifyTopology(subscriptionID)
	return nil
}

func (s *MemStore) Transfer(subscriptionID string, fromSession topology.SessionID, keys []topology.EventTypePartition) error {
	toRemove := make(map[topology.EventTypePartition]bool, len(keys))
	for _, k := range keys {
		toRemove[k] = true
	}

	s.mu.Lock()
	top := s.topologies[subscriptionID]
	out := make([]topology.Partition, 0, len(top.Partitions))
	for _, p := range top.Partitions {
		if p.Session == fromSession && toRemove[p.Key] {
			p.Session = ""
			p.State = topology.Unassigned
		}
		out = append(out, p)
	}
	top.Partitions = out
	top.Version++
	s.topologies[subscriptionID] = top
	s.mu.Unlock()

	s.notifyTopology(subscriptionID)
	return nil
}

func (s *MemStore) RunLocked(subscriptionID string, action func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[subscriptionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[subscriptionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	if err := action(); err != nil {
		return streamerr.NewCoordinationError("run_locked", err)
	}
	return nil
}

// SetOffset is a test helper that updates a partition's committed offset and
// fires any watchers registered for it, simulating the client committing.
func (s *MemStore) SetOffset(subscriptionID string, key topology.EventTypePartition, raw string) {
	s.mu.Lock()
	if s.offsets[subscriptionID] == nil {
		s.offsets[subscriptionID] = make(map[topology.EventTypePartition]string)
	}
	s.offsets[subscriptionID][key] = raw
	watchers := append([]*memListener(nil), s.offsetWatchers[subscriptionID][key]...)
	s.mu.Unlock()

	for _, w := range watchers {
		w.notify()
	}
}

// SetTopology is a test helper that replaces the full topology snapshot and
// fires topology watchers.
func (s *MemStore) SetTopology(subscriptionID string, top topology.Topology) {
	s.mu.Lock()
	top.Version++
	s.topologies[subscriptionID] = top
	s.mu.Unlock()
	s.notifyTopology(subscriptionID)
}

func (s *MemStore) notifyTopology(subscriptionID string) {
	s.mu.Lock()
	watchers := append([]*memListener(nil), s.topologyWatchers[subscriptionID]...)
	s.mu.Unlock()
	for _, w := range watchers {
		w.notify()
	}
}

func (s *MemStore) notifySessionsLocked(subscriptionID string) {
	watchers := append([]*memListener(nil), s.sessionWatchers[subscriptionID]...)
	for _, w := range watchers {
		w.notify()
	}
}
