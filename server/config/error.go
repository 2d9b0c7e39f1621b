// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import "github.com/CeresDB/ceresshard/pkg/coderr"

var (
	ErrHelpRequested      = coderr.NewCodeError(coderr.PrintHelpUsage, "help requested")
	ErrInvalidCommandArgs = coderr.NewCodeError(coderr.InvalidParams, "invalid command arguments")
	ErrInvalidConfig      = coderr.NewCodeError(coderr.InvalidParams, "invalid config")
	ErrReadConfigFile     = coderr.NewCodeError(coderr.Internal, "fail to read config file")
	ErrRetrieveHostname   = coderr.NewCodeError(coderr.Internal, "fail to retrieve local hostname")
)
