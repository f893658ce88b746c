package coordination

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/rkeytacked/nakadi/internal/streamerr"
	"github.com/rkeytacked/nakadi/internal/topology"
)

// ZKStore is the production Store implementation, backed by the node layout
// in spec.md §6:
//
//	/subscriptions/{id}/topology
//	/subscriptions/{id}/offsets/{event_type}/{partition}
//	/subscriptions/{id}/sessions/{session_id}
//	/subscriptions/{id}/lock
type ZKStore struct {
	conn *zk.Conn
	acl  []zk.ACL
}

// Dial connects to the given ZooKeeper ensemble and returns a ready ZKStore.
func Dial(addrs []string, sessionTimeout time.Duration) (*ZKStore, error) {
	conn, _, err := zk.Connect(addrs, sessionTimeout)
	if err != nil {
		return nil, streamerr.NewCoordinationError("connect", err)
	}
	return &ZKStore{conn: conn, acl: zk.WorldACL(zk.PermAll)}, nil
}

func (s *ZKStore) Close() { s.conn.Close() }

func topologyPath(subscriptionID string) string {
	return path.Join("/subscriptions", subscriptionID, "topology")
}

func offsetPath(subscriptionID string, key topology.EventTypePartition) string {
	return path.Join("/subscriptions", subscriptionID, "offsets", key.EventType, key.Partition)
}

func sessionPath(subscriptionID string, id topology.SessionID) string {
	return path.Join("/subscriptions", subscriptionID, "sessions", string(id))
}

func sessionsDir(subscriptionID string) string {
	return path.Join("/subscriptions", subscriptionID, "sessions")
}

func lockPath(subscriptionID string) string {
	return path.Join("/subscriptions", subscriptionID, "lock")
}

// wirePartition and wireTopology are the JSON shapes on the topology znode;
// kept separate from the internal topology.Topology/Partition types so the
// wire format can evolve without rippling through the state machine.
type wirePartition struct {
	EventType string `json:"event_type"`
	Partition string `json:"partition"`
	Session   string `json:"session"`
	State     string `json:"state"`
}

type wireTopology struct {
	Version    uint64          `json:"version"`
	Partitions []wirePartition `json:"partitions"`
}

func parseState(s string) topology.PartitionState {
	switch s {
	case "ASSIGNED":
		return topology.Assigned
	case "REASSIGNING":
		return topology.Reassigning
	default:
		return topology.Unassigned
	}
}

func decodeTopology(data []byte) (topology.Topology, error) {
	var w wireTopology
	if len(data) == 0 {
		return topology.Topology{}, nil
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return topology.Topology{}, err
	}
	out := topology.Topology{Version: w.Version, Partitions: make([]topology.Partition, 0, len(w.Partitions))}
	for _, p := range w.Partitions {
		out.Partitions = append(out.Partitions, topology.Partition{
			Key:     topology.EventTypePartition{EventType: p.EventType, Partition: p.Partition},
			Session: topology.SessionID(p.Session),
			State:   parseState(p.State),
		})
	}
	return out, nil
}

func encodeTopology(t topology.Topology) ([]byte, error) {
	w := wireTopology{Version: t.Version, Partitions: make([]wirePartition, 0, len(t.Partitions))}
	for _, p := range t.Partitions {
		w.Partitions = append(w.Partitions, wirePartition{
			EventType: p.Key.EventType,
			Partition: p.Key.Partition,
			Session:   string(p.Session),
			State:     p.State.String(),
		})
	}
	return json.Marshal(w)
}

type zkWatchListener struct {
	refresh func() (any, error)
	closed  chan struct{}
}

func (l *zkWatchListener) Refresh() (any, error) { return l.refresh() }

func (l *zkWatchListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

// watchLoop re-arms a ZooKeeper watch after every fire, the way
// other_examples/53c9fd64_lvyong1985-gafka re-establishes its watch inside
// its own event loop: read+watch, wait for either the event or a close
// signal, invoke handler, repeat.
func watchLoop(closed <-chan struct{}, arm func() (<-chan zk.Event, error), handler func()) {
	for {
		events, err := arm()
		if err != nil {
			return
		}
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type == zk.EventNotWatching {
				return
			}
			handler()
		}
	}
}

func (s *ZKStore) SubscribeForTopologyChanges(subscriptionID string, handler TopologyHandler) (ListenerHandle, error) {
	p := topologyPath(subscriptionID)
	l := &zkWatchListener{closed: make(chan struct{})}
	l.refresh = func() (any, error) {
		data, _, err := s.conn.Get(p)
		if err != nil {
			return nil, streamerr.NewCoordinationError("get_topology", err)
		}
		return decodeTopology(data)
	}

	arm := func() (<-chan zk.Event, error) {
		_, _, events, err := s.conn.GetW(p)
		if err != nil {
			return nil, streamerr.NewCoordinationError("watch_topology", err)
		}
		return events, nil
	}
	if _, err := arm(); err != nil {
		return nil, err
	}
	go watchLoop(l.closed, arm, handler)
	return l, nil
}

func (s *ZKStore) SubscribeForOffsetChanges(subscriptionID string, key topology.EventTypePartition, handler OffsetHandler) (ListenerHandle, error) {
	p := offsetPath(subscriptionID, key)
	l := &zkWatchListener{closed: make(chan struct{})}
	l.refresh = func() (any, error) {
		return s.GetOffset(subscriptionID, key)
	}

	arm := func() (<-chan zk.Event, error) {
		_, _, events, err := s.conn.GetW(p)
		if err != nil {
			return nil, streamerr.NewCoordinationError("watch_offset", err)
		}
		return events, nil
	}
	if _, err := arm(); err != nil {
		return nil, err
	}
	go watchLoop(l.closed, arm, handler)
	return l, nil
}

func (s *ZKStore) SubscribeForSessionListChanges(subscriptionID string, handler SessionListHandler) (ListenerHandle, error) {
	p := sessionsDir(subscriptionID)
	l := &zkWatchListener{closed: make(chan struct{})}
	l.refresh = func() (any, error) {
		return s.ListSessions(subscriptionID)
	}

	arm := func() (<-chan zk.Event, error) {
		_, _, events, err := s.conn.ChildrenW(p)
		if err != nil {
			return nil, streamerr.NewCoordinationError("watch_sessions", err)
		}
		return events, nil
	}
	if _, err := arm(); err != nil {
		return nil, err
	}
	go watchLoop(l.closed, arm, handler)
	return l, nil
}

func (s *ZKStore) GetOffset(subscriptionID string, key topology.EventTypePartition) (string, error) {
	data, _, err := s.conn.Get(offsetPath(subscriptionID, key))
	if err != nil {
		if err == zk.ErrNoNode {
			return "", nil
		}
		return "", streamerr.NewCoordinationError("get_offset", err)
	}
	return string(data), nil
}

func (s *ZKStore) ensurePath(p string, data []byte) error {
	exists, _, err := s.conn.Exists(p)
	if err != nil {
		return err
	}
	if exists {
		_, err := s.conn.Set(p, data, -1)
		return err
	}
	// create intermediate directories as persistent empty nodes.
	dir := path.Dir(p)
	if dir != "/" && dir != "." {
		if err := s.ensurePath(dir, nil); err != nil {
			return err
		}
	}
	_, err = s.conn.Create(p, data, 0, s.acl)
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}

func (s *ZKStore) RegisterSession(subscriptionID string, session topology.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return streamerr.NewCoordinationError("register_session", err)
	}
	if err := s.ensurePath(sessionPath(subscriptionID, session.ID), data); err != nil {
		return streamerr.NewCoordinationError("register_session", err)
	}
	return nil
}

func (s *ZKStore) UnregisterSession(subscriptionID string, sessionID topology.SessionID) error {
	err := s.conn.Delete(sessionPath(subscriptionID, sessionID), -1)
	if err != nil && err != zk.ErrNoNode {
		return streamerr.NewCoordinationError("unregister_session", err)
	}
	return nil
}

func (s *ZKStore) ListSessions(subscriptionID string) ([]topology.Session, error) {
	children, _, err := s.conn.Children(sessionsDir(subscriptionID))
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, nil
		}
		return nil, streamerr.NewCoordinationError("list_sessions", err)
	}
	out := make([]topology.Session, 0, len(children))
	for _, child := range children {
		data, _, err := s.conn.Get(path.Join(sessionsDir(subscriptionID), child))
		if err != nil {
			continue
		}
		var sess topology.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *ZKStore) ListPartitions(subscriptionID string) (topology.Topology, error) {
	data, _, err := s.conn.Get(topologyPath(subscriptionID))
	if err != nil {
		if err == zk.ErrNoNode {
			return topology.Topology{}, nil
		}
		return topology.Topology{}, streamerr.NewCoordinationError("list_partitions", err)
	}
	top, err := decodeTopology(data)
	if err != nil {
		return topology.Topology{}, streamerr.NewParseError(string(data), err)
	}
	return top, nil
}

func (s *ZKStore) UpdatePartitionsConfiguration(subscriptionID string, changes []PartitionChange) error {
	return s.mutateTopology(subscriptionID, func(top topology.Topology) topology.Topology {
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
		return top
	})
}

func (s *ZKStore) Transfer(subscriptionID string, fromSession topology.SessionID, keys []topology.EventTypePartition) error {
	toRemove := make(map[topology.EventTypePartition]bool, len(keys))
	for _, k := range keys {
		toRemove[k] = true
	}
	return s.mutateTopology(subscriptionID, func(top topology.Topology) topology.Topology {
		out := make([]topology.Partition, 0, len(top.Partitions))
		for _, p := range top.Partitions {
			if p.Session == fromSession && toRemove[p.Key] {
				p.Session = ""
				p.State = topology.Unassigned
			}
			out = append(out, p)
		}
		top.Partitions = out
		return top
	})
}

// mutateTopology reads the topology znode, applies fn, and writes it back
// with an optimistic version check, retrying once on a concurrent write the
// way a curator-style compare-and-swap would. Callers touching the
// session-to-partition mapping (rebalance, transfer) wrap this in RunLocked
// per spec.md §5.
func (s *ZKStore) mutateTopology(subscriptionID string, fn func(topology.Topology) topology.Topology) error {
	p := topologyPath(subscriptionID)
	for attempt := 0; attempt < 2; attempt++ {
		data, stat, err := s.conn.Get(p)
		version := int32(-1)
		var top topology.Topology
		if err == nil {
			version = stat.Version
			top, err = decodeTopology(data)
			if err != nil {
				return streamerr.NewParseError(string(data), err)
			}
		} else if err != zk.ErrNoNode {
			return streamerr.NewCoordinationError("mutate_topology", err)
		}

		next := fn(top)
		next.Version = top.Version + 1
		encoded, err := encodeTopology(next)
		if err != nil {
			return streamerr.NewCoordinationError("mutate_topology", err)
		}

		if version < 0 {
			if err := s.ensurePath(path.Dir(p), nil); err != nil {
				return streamerr.NewCoordinationError("mutate_topology", err)
			}
			if _, err := s.conn.Create(p, encoded, 0, s.acl); err != nil {
				if err == zk.ErrNodeExists {
					continue
				}
				return streamerr.NewCoordinationError("mutate_topology", err)
			}
			return nil
		}

		if _, err := s.conn.Set(p, encoded, version); err != nil {
			if err == zk.ErrBadVersion {
				continue
			}
			return streamerr.NewCoordinationError("mutate_topology", err)
		}
		return nil
	}
	return streamerr.NewCoordinationError("mutate_topology", fmt.Errorf("lost the compare-and-swap race on %s", p))
}

func (s *ZKStore) RunLocked(subscriptionID string, action func() error) error {
	lock := zk.NewLock(s.conn, lockPath(subscriptionID), s.acl)
	if err := lock.Lock(); err != nil {
		return streamerr.NewCoordinationError("run_locked", err)
	}
	defer lock.Unlock()

	if err := action(); err != nil {
		return err
	}
	return nil
}
