// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ClusterRole is a bit set of the capabilities a node serves.
type ClusterRole uint8

const RoleNone ClusterRole = 0

const (
	RoleShardServer ClusterRole = 1 << iota
	RoleConfigServer
	RoleRouterServer
)

var clusterRoleNames = []struct {
	role ClusterRole
	name string
}{
	{RoleShardServer, "shardsvr"},
	{RoleConfigServer, "configsvr"},
	{RoleRouterServer, "router"},
}

// Has reports whether all the bits of other are set. RoleNone only has RoleNone.
func (r ClusterRole) Has(other ClusterRole) bool {
	if other == RoleNone {
		return r == RoleNone
	}
	return r&other == other
}

func (r ClusterRole) String() string {
	if r == RoleNone {
		return "none"
	}
	names := make([]string, 0, len(clusterRoleNames))
	for _, n := range clusterRoleNames {
		if r.Has(n.role) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseClusterRole combines the named roles into a ClusterRole.
func ParseClusterRole(names []string) (ClusterRole, error) {
	role := RoleNone
	for _, name := range names {
		found := false
		for _, n := range clusterRoleNames {
			if strings.EqualFold(name, n.name) {
				role |= n.role
				found = true
				break
			}
		}
		if !found {
			return RoleNone, errors.Errorf("unknown cluster role:%s", name)
		}
	}
	return role, nil
}

type ShardID string

// ConnectionString locates the config shard, in the form of `setName/host:port[,host:port]` or `host:port[,host:port]`.
type ConnectionString struct {
	SetName string
	Hosts   []string
}

func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	hosts := s
	if idx := strings.Index(s, "/"); idx >= 0 {
		cs.SetName = s[:idx]
		hosts = s[idx+1:]
		if cs.SetName == "" {
			return ConnectionString{}, errors.Errorf("empty replica set name in connection string:%s", s)
		}
	}

	for _, host := range strings.Split(hosts, ",") {
		h, port, err := net.SplitHostPort(host)
		if err != nil {
			return ConnectionString{}, errors.WithMessagef(err, "parse host:%q of connection string:%s", host, s)
		}
		if h == "" {
			return ConnectionString{}, errors.Errorf("empty host in connection string:%s", s)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return ConnectionString{}, errors.WithMessagef(err, "parse port of host:%q", host)
		}
		cs.Hosts = append(cs.Hosts, host)
	}
	return cs, nil
}

func (c ConnectionString) String() string {
	hosts := strings.Join(c.Hosts, ",")
	if c.SetName == "" {
		return hosts
	}
	return c.SetName + "/" + hosts
}

// RecoveredClusterRole is the identity of the node, produced once by the recovery at startup.
type RecoveredClusterRole struct {
	Role                        ClusterRole
	ShardID                     ShardID
	ClusterID                   uuid.UUID
	ConfigShardConnectionString ConnectionString
}

func (r RecoveredClusterRole) String() string {
	return fmt.Sprintf("%s : %s : %s : %s", r.ClusterID, r.Role, r.ConfigShardConnectionString, r.ShardID)
}

type Timestamp struct {
	Seconds   uint32 `json:"t"`
	Increment uint32 `json:"i"`
}

// DatabaseVersion is the routing version of a database. Two versions are equal only if all the fields are equal.
type DatabaseVersion struct {
	UUID      uuid.UUID `json:"uuid"`
	Timestamp Timestamp `json:"timestamp"`
	LastMod   int32     `json:"lastMod"`
}

func NewDatabaseVersion(id uuid.UUID, timestamp Timestamp) DatabaseVersion {
	return DatabaseVersion{
		UUID:      id,
		Timestamp: timestamp,
		LastMod:   1,
	}
}

// MakeUpdated returns the version following v.
func (v DatabaseVersion) MakeUpdated() DatabaseVersion {
	v.LastMod++
	return v
}

func (v DatabaseVersion) String() string {
	return fmt.Sprintf("{uuid:%s, timestamp:(%d, %d), lastMod:%d}", v.UUID, v.Timestamp.Seconds, v.Timestamp.Increment, v.LastMod)
}
