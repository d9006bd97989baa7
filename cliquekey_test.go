package collectives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCliqueKey(t *testing.T) {
	key := NewCliqueKey([]int{4, 2, 7})
	require.Equal(t, 3, key.NumDevices())
	require.Equal(t, []int{4, 2, 7}, key.Devices())

	rank, ok := key.Rank(2)
	require.True(t, ok)
	require.Equal(t, 1, rank)
	_, ok = key.Rank(3)
	require.False(t, ok)

	require.Equal(t, "clique{devices=[4,2,7]}", key.String())
	require.Panics(t, func() { NewCliqueKey(nil) })
}

func TestCliqueKeyIsolation(t *testing.T) {
	devices := []int{0, 1}
	key := NewCliqueKey(devices)
	devices[0] = 99
	require.Equal(t, []int{0, 1}, key.Devices(), "key must copy its device list")
}

func TestGroupModeString(t *testing.T) {
	require.Equal(t, "CrossReplica", CrossReplica.String())
	require.Equal(t, "CrossPartition", CrossPartition.String())
	require.Equal(t, "CrossReplicaAndPartition", CrossReplicaAndPartition.String())
	require.Equal(t, "FlattenedID", FlattenedID.String())
	require.Equal(t, "GroupMode(42)", GroupMode(42).String())
}
