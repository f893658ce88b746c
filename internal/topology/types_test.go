package topology

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypePartitionCompare(t *testing.T) {
	a := EventTypePartition{EventType: "orders", Partition: "0"}
	b := EventTypePartition{EventType: "orders", Partition: "1"}
	c := EventTypePartition{EventType: "shipments", Partition: "0"}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(c))
	assert.Equal(t, 1, c.Compare(a))
}

func TestTopologyOwnedByFiltersAndSorts(t *testing.T) {
	sid := SessionID("s1")
	other := SessionID("s2")
	top := Topology{
		Version: 3,
		Partitions: []Partition{
			{Key: EventTypePartition{"orders", "1"}, Session: sid, State: Assigned},
			{Key: EventTypePartition{"orders", "0"}, Session: sid, State: Reassigning},
			{Key: EventTypePartition{"orders", "2"}, Session: other, State: Assigned},
			{Key: EventTypePartition{"orders", "3"}, Session: sid, State: Unassigned},
		},
	}

	owned := top.OwnedBy(sid)
	require.Len(t, owned, 2)
	assert.Equal(t, "0", owned[0].Key.Partition)
	assert.Equal(t, "1", owned[1].Key.Partition)

	want := []Partition{
		{Key: EventTypePartition{"orders", "0"}, Session: sid, State: Reassigning},
		{Key: EventTypePartition{"orders", "1"}, Session: sid, State: Assigned},
	}
	if diff := cmp.Diff(want, owned); diff != "" {
		t.Errorf("OwnedBy mismatch (-want +got):\n%s", diff)
	}
}

func TestNakadiCursorCompare(t *testing.T) {
	key := EventTypePartition{"orders", "0"}
	a := NakadiCursor{Partition: key, Offset: 10}
	b := NakadiCursor{Partition: key, Offset: 20}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestNakadiCursorComparePanicsAcrossPartitions(t *testing.T) {
	a := NakadiCursor{Partition: EventTypePartition{"orders", "0"}, Offset: 1}
	b := NakadiCursor{Partition: EventTypePartition{"orders", "1"}, Offset: 1}

	assert.Panics(t, func() {
		a.Compare(b)
	})
}

func TestSimpleCursorConverter(t *testing.T) {
	key := EventTypePartition{"orders", "0"}
	conv := SimpleCursorConverter{}

	cur, err := conv.Convert(key, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cur.Offset)

	_, err = conv.Convert(key, "not-a-number")
	require.Error(t, err)
}

func TestNewSessionIDIsUniqueAndNonEmpty(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
