// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestClusterRole(t *testing.T) {
	re := require.New(t)

	role := RoleShardServer | RoleConfigServer
	re.True(role.Has(RoleShardServer))
	re.True(role.Has(RoleConfigServer))
	re.False(role.Has(RoleRouterServer))
	re.False(role.Has(RoleNone))
	re.True(RoleNone.Has(RoleNone))
	re.Equal("shardsvr|configsvr", role.String())
	re.Equal("none", RoleNone.String())

	parsed, err := ParseClusterRole([]string{"configsvr", "ShardSvr"})
	re.NoError(err)
	re.Equal(role, parsed)

	parsed, err = ParseClusterRole(nil)
	re.NoError(err)
	re.Equal(RoleNone, parsed)

	_, err = ParseClusterRole([]string{"arbiter"})
	re.Error(err)
}

func TestParseConnectionString(t *testing.T) {
	re := require.New(t)

	cs, err := ParseConnectionString("cfg/host:27019")
	re.NoError(err)
	re.Equal("cfg", cs.SetName)
	re.Equal([]string{"host:27019"}, cs.Hosts)
	re.Equal("cfg/host:27019", cs.String())

	cs, err = ParseConnectionString("a:1,b:2")
	re.NoError(err)
	re.Empty(cs.SetName)
	re.Equal("a:1,b:2", cs.String())

	for _, invalid := range []string{"", "cfg/", "/host:1", "host", "host:port", ":27019", "cfg/host:70000"} {
		_, err := ParseConnectionString(invalid)
		re.Error(err, invalid)
	}
}

func TestDatabaseVersion(t *testing.T) {
	re := require.New(t)
	id := uuid.MustParse("5f8b1c4a-0000-4000-8000-000000000001")

	v1 := NewDatabaseVersion(id, Timestamp{Seconds: 10, Increment: 1})
	v2 := v1.MakeUpdated()

	re.Equal(int32(1), v1.LastMod)
	re.Equal(int32(2), v2.LastMod)
	re.NotEqual(v1, v2)
	re.True(v1 == NewDatabaseVersion(id, Timestamp{Seconds: 10, Increment: 1}))
	re.Equal("{uuid:5f8b1c4a-0000-4000-8000-000000000001, timestamp:(10, 1), lastMod:1}", v1.String())
}

func TestRecoveredClusterRoleString(t *testing.T) {
	re := require.New(t)
	cs, err := ParseConnectionString("cfg/host:27019")
	re.NoError(err)

	role := RecoveredClusterRole{
		Role:                        RoleShardServer,
		ShardID:                     "shard01",
		ClusterID:                   uuid.MustParse("5f8b1c4a-0000-4000-8000-000000000001"),
		ConfigShardConnectionString: cs,
	}
	re.Equal("5f8b1c4a-0000-4000-8000-000000000001 : shardsvr : cfg/host:27019 : shard01", role.String())
}
