// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import "github.com/CeresDB/ceresshard/pkg/coderr"

var (
	ErrParseRequest          = coderr.NewCodeError(coderr.BadRequest, "parse request params failed")
	ErrShardingStateNotFound = coderr.NewCodeError(coderr.NotFound, "sharding state not found")
	ErrUpdateLogLimiter      = coderr.NewCodeError(coderr.Internal, "fail to update log limiter")
)
