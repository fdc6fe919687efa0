// Copyright 2025 RepoRoller Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPlan bounds the retries for one outcome class.
type RetryPlan struct {
	MaxRetries  int
	Base        time.Duration
	Exponential bool
}

// Delay returns the wait before retry attempt n (1-based).
func (p RetryPlan) Delay(n int) time.Duration {
	if p.Exponential {
		d := p.Base
		for i := 1; i < n; i++ {
			d *= 2
		}
		return d
	}
	return time.Duration(n) * p.Base
}

// PlanFor returns the retry plan for a class. Auth, authorization,
// not-found and conflict outcomes are never retried.
func PlanFor(c Class) (RetryPlan, bool) {
	switch c {
	case ClassNetwork:
		return RetryPlan{MaxRetries: 3, Base: 5 * time.Second}, true
	case ClassRateLimited:
		return RetryPlan{MaxRetries: 5, Base: 60 * time.Second, Exponential: true}, true
	case ClassTimeout:
		return RetryPlan{MaxRetries: 3, Base: 10 * time.Second}, true
	case ClassUnknown:
		return RetryPlan{MaxRetries: 2, Base: 15 * time.Second}, true
	}
	return RetryPlan{}, false
}

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithRetry runs fn, retrying retryable outcome classes per their plan. fn
// must return errors already wrapped by Classify. The last error is
// returned when retries are exhausted or the context ends.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		// A cancelled caller is gone; retrying cannot help.
		if errors.Is(err, context.Canceled) {
			return err
		}
		plan, retryable := PlanFor(ClassOf(err))
		if !retryable || attempt > plan.MaxRetries {
			return err
		}
		d := plan.Delay(attempt)
		log.Warn().
			Str("operation", op).
			Str("class", ClassOf(err).String()).
			Int("attempt", attempt).
			Dur("delay", d).
			Err(err).
			Msg("Retrying forge operation")
		if serr := sleep(ctx, d); serr != nil {
			return err
		}
	}
}
