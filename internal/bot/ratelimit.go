// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserRateLimiter limits messages per user
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter allows requestsPerMinute per user with the given burst.
// A non-positive rate disables limiting.
func NewUserRateLimiter(requestsPerMinute, burst int) *UserRateLimiter {
	if requestsPerMinute <= 0 {
		return &UserRateLimiter{limit: rate.Inf}
	}
	if burst <= 0 {
		burst = 1
	}
	return &UserRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    burst,
	}
}

// Allow reports whether the user may send another message now
func (l *UserRateLimiter) Allow(userID string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	return l.limiter(userID).Allow()
}

func (l *UserRateLimiter) limiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[userID]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters[userID] = limiter
	return limiter
}
