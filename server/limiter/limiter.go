// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package limiter

import (
	"sync"

	"github.com/CeresDB/ceresshard/server/config"
	"golang.org/x/time/rate"
)

// FlowLimiter throttles noisy events, e.g. warnings logged for every rejected routing version.
type FlowLimiter struct {
	l *rate.Limiter
	// RWMutex is used to protect following fields.
	lock                          sync.RWMutex
	tokenBucketFillRate           int
	tokenBucketBurstEventCapacity int
	enable                        bool
	unLimitList                   map[string]struct{}
}

func NewFlowLimiter(config config.LimiterConfig) *FlowLimiter {
	newLimiter := rate.NewLimiter(rate.Limit(config.TokenBucketFillRate), config.TokenBucketBurstEventCapacity)
	unLimitList := make(map[string]struct{}, len(config.UnLimitList))
	for _, event := range config.UnLimitList {
		unLimitList[event] = struct{}{}
	}

	return &FlowLimiter{
		l:                             newLimiter,
		tokenBucketFillRate:           config.TokenBucketFillRate,
		tokenBucketBurstEventCapacity: config.TokenBucketBurstEventCapacity,
		enable:                        config.Enable,
		unLimitList:                   unLimitList,
	}
}

// Allow reports whether the event may happen now.
func (f *FlowLimiter) Allow(event string) bool {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if !f.enable {
		return true
	}
	if _, ok := f.unLimitList[event]; ok {
		return true
	}
	return f.l.Allow()
}

func (f *FlowLimiter) UpdateLimiter(config config.LimiterConfig) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.l.SetLimit(rate.Limit(config.TokenBucketFillRate))
	f.l.SetBurst(config.TokenBucketBurstEventCapacity)
	f.tokenBucketFillRate = config.TokenBucketFillRate
	f.tokenBucketBurstEventCapacity = config.TokenBucketBurstEventCapacity
	f.enable = config.Enable
	return nil
}

// UpdateUnLimitList adds unLimitEvents to and removes limitEvents from the events which are never throttled.
func (f *FlowLimiter) UpdateUnLimitList(unLimitEvents []string, limitEvents []string) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, event := range unLimitEvents {
		f.unLimitList[event] = struct{}{}
	}

	for _, event := range limitEvents {
		delete(f.unLimitList, event)
	}
}

func (f *FlowLimiter) GetConfig() config.LimiterConfig {
	f.lock.RLock()
	defer f.lock.RUnlock()

	unLimitList := make([]string, 0, len(f.unLimitList))
	for event := range f.unLimitList {
		unLimitList = append(unLimitList, event)
	}
	return config.LimiterConfig{
		Enable:                        f.enable,
		TokenBucketFillRate:           f.tokenBucketFillRate,
		TokenBucketBurstEventCapacity: f.tokenBucketBurstEventCapacity,
		UnLimitList:                   unLimitList,
	}
}
