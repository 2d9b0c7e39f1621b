// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import (
	"github.com/CeresDB/ceresshard/server/config"
	"github.com/CeresDB/ceresshard/server/sharding"
	"github.com/google/uuid"
)

// BuildRecoveredClusterRole validates the configured identity. A node without identity is not part of a sharded
// cluster, and recovers with RoleNone.
func BuildRecoveredClusterRole(identity *config.ShardIdentityConfig) (sharding.RecoveredClusterRole, error) {
	if identity == nil {
		return sharding.RecoveredClusterRole{Role: sharding.RoleNone}, nil
	}

	role, err := sharding.ParseClusterRole(identity.Roles)
	if err != nil {
		return sharding.RecoveredClusterRole{}, ErrInvalidShardIdentity.WithCause(err)
	}
	if role == sharding.RoleNone {
		return sharding.RecoveredClusterRole{}, ErrInvalidShardIdentity.WithCausef("shard identity without any cluster role")
	}

	if identity.ShardID == "" {
		return sharding.RecoveredClusterRole{}, ErrInvalidShardIdentity.WithCausef("empty shard id")
	}

	clusterID, err := uuid.Parse(identity.ClusterID)
	if err != nil {
		return sharding.RecoveredClusterRole{}, ErrInvalidShardIdentity.WithCausef("parse cluster id:%q, err:%v", identity.ClusterID, err)
	}

	connString, err := sharding.ParseConnectionString(identity.ConfigConnectionString)
	if err != nil {
		return sharding.RecoveredClusterRole{}, ErrInvalidShardIdentity.WithCause(err)
	}

	return sharding.RecoveredClusterRole{
		Role:                        role,
		ShardID:                     sharding.ShardID(identity.ShardID),
		ClusterID:                   clusterID,
		ConfigShardConnectionString: connString,
	}, nil
}

// recoverShardingState resolves the recovery of the sharding state exactly once.
func (srv *Server) recoverShardingState() {
	role, err := BuildRecoveredClusterRole(srv.cfg.Identity)
	if err != nil {
		srv.state.FailRecovery(err)
		return
	}
	srv.state.CompleteRecovery(role)
}
