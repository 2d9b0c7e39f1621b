// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package coderr

import "net/http"

type Code int

const (
	Invalid         Code = -1
	Ok              Code = 0
	InvalidParams   Code = http.StatusBadRequest
	BadRequest      Code = http.StatusBadRequest
	NotFound        Code = http.StatusNotFound
	Conflict        Code = http.StatusConflict
	TooManyRequests Code = http.StatusTooManyRequests
	Internal        Code = http.StatusInternalServerError

	// HTTPCodeUpperBound is a bound under which any Code should have the same meaning with the http status code.
	HTTPCodeUpperBound = Code(1000)
	PrintHelpUsage     = Code(1001)

	// Sharding related codes.
	ShardingStateNotInitialized = Code(1100)
	ManualInterventionRequired  = Code(1101)
	StaleDbRoutingVersion       = Code(1102)
)

// ToHTTPCode converts the Code to http code.
// The Code below the HTTPCodeUpperBound is equal to the http code, and the others are mapped by meaning.
func (c Code) ToHTTPCode() int {
	if c < HTTPCodeUpperBound {
		return int(c)
	}

	switch c {
	case ShardingStateNotInitialized:
		return http.StatusServiceUnavailable
	case StaleDbRoutingVersion:
		return http.StatusConflict
	case PrintHelpUsage:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Retryable tells whether the caller may retry the request after the condition described by the code is resolved.
func (c Code) Retryable() bool {
	switch c {
	case ShardingStateNotInitialized, StaleDbRoutingVersion, TooManyRequests:
		return true
	}
	return false
}
