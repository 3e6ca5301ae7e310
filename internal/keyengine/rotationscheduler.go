/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package keyengine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RotationSummary aggregates the outcome of one rotateDueDomains pass.
type RotationSummary struct {
	Succeeded []string
	Skipped   []string
	Failed    map[string]error
}

func newRotationSummary() RotationSummary {
	return RotationSummary{Failed: make(map[string]error)}
}

// RotationScheduler drives RotationEngine across every due domain, retrying
// a batch under bounded policy (spec §4.7, C7).
type RotationScheduler struct {
	engine      *RotationEngine
	policyStore PolicyStore
	cfg         *SchedulerConfig
	now         func() time.Time
	log         *zap.SugaredLogger
}

// NewRotationScheduler wires a scheduler around an already-constructed
// RotationEngine.
func NewRotationScheduler(engine *RotationEngine, policyStore PolicyStore, cfg *SchedulerConfig, log *zap.SugaredLogger) *RotationScheduler {
	if cfg == nil {
		cfg = NewSchedulerConfig()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RotationScheduler{engine: engine, policyStore: policyStore, cfg: cfg, now: time.Now, log: log}
}

// rotateDueDomains enumerates policyStore.GetDueForRotation(now) and invokes
// the Engine for each domain sequentially, per spec §5 ("Scheduler's
// ensureSuccessfulRotation processes due domains sequentially by default").
func (s *RotationScheduler) rotateDueDomains(ctx context.Context) RotationSummary {
	summary := newRotationSummary()

	due, err := s.policyStore.GetDueForRotation(ctx, s.now())
	if err != nil {
		s.log.Errorw("listing due domains", "error", err)
		summary.Failed["*"] = err
		return summary
	}

	for _, policy := range due {
		if ctx.Err() != nil {
			return summary
		}
		result := s.engine.RotateDomain(ctx, policy.Domain, nil)
		switch {
		case result.IsOK():
			summary.Succeeded = append(summary.Succeeded, policy.Domain)
		case result.IsSkipped():
			summary.Skipped = append(summary.Skipped, policy.Domain)
		default:
			summary.Failed[policy.Domain] = result.Err
		}
	}
	return summary
}

// ensureSuccessfulRotation retries rotateDueDomains up to cfg.MaxRetries
// times, sleeping cfg.RetryIntervalMs between attempts, stopping as soon as
// an attempt reports zero failures. It honors ctx cancellation between
// attempts; an in-flight Engine call always runs to completion.
func (s *RotationScheduler) ensureSuccessfulRotation(ctx context.Context) RotationSummary {
	var last RotationSummary
	maxRetries := s.cfg.MaxRetries()
	interval := time.Duration(s.cfg.RetryIntervalMs()) * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		last = s.rotateDueDomains(ctx)
		if len(last.Failed) == 0 {
			return last
		}
		s.log.Warnw("rotation attempt had failures", "attempt", attempt, "failed", len(last.Failed))

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(interval):
		}
	}
	s.log.Errorw("giving up on rotation after max retries", "maxRetries", maxRetries, "failed", len(last.Failed))
	return last
}

// RunScheduledRotation is the entry point invoked periodically by an
// external cron collaborator (spec §6 scheduleRotation()).
func (s *RotationScheduler) RunScheduledRotation(ctx context.Context) RotationSummary {
	return s.ensureSuccessfulRotation(ctx)
}

// TriggerImmediateRotation rotates every currently due domain now (spec §6
// rotate()).
func (s *RotationScheduler) TriggerImmediateRotation(ctx context.Context) RotationSummary {
	return s.ensureSuccessfulRotation(ctx)
}

// TriggerDomainRotation rotates one domain regardless of schedule, still
// subject to the lock (spec §6 rotateDomain(domain)).
func (s *RotationScheduler) TriggerDomainRotation(ctx context.Context, domain string) Result[string] {
	return s.engine.RotateDomain(ctx, domain, nil)
}

// Configure applies bounded mutations to the scheduler's knobs (spec §6
// configure({retryIntervalMs?, maxRetries?})).
func (s *RotationScheduler) Configure(retryIntervalMs, maxRetries *int) error {
	return s.cfg.Configure(retryIntervalMs, maxRetries)
}
