// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import "github.com/CeresDB/ceresshard/pkg/coderr"

var (
	ErrInvalidShardIdentity = coderr.NewCodeError(coderr.InvalidParams, "invalid shard identity")
	ErrStartHTTPService     = coderr.NewCodeError(coderr.Internal, "fail to start http service")
	ErrServerClosed         = coderr.NewCodeError(coderr.Internal, "server is closed")
)
