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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotationScheduler_RotateDueDomainsSkipsNotYetDue(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	setup := h.engine.InitialSetupDomain(ctx, "due", SetupOptions{RotationIntervalDays: 1})
	require.True(t, setup.IsOK())
	notDue := h.engine.InitialSetupDomain(ctx, "future", SetupOptions{RotationIntervalDays: 365})
	require.True(t, notDue.IsOK())

	// Force "due" into the past so it's due now.
	policy, err := h.policyStore.FindByDomain(ctx, "DUE")
	require.NoError(t, err)
	policy.NextRotationAt = time.Now().Add(-time.Hour)
	require.NoError(t, h.policyStore.UpdatePolicy(ctx, policy))

	cfg := NewSchedulerConfig()
	sched := NewRotationScheduler(h.engine, h.policyStore, cfg, nil)

	summary := sched.TriggerImmediateRotation(ctx)
	require.Contains(t, summary.Succeeded, "DUE")
	require.NotContains(t, summary.Succeeded, "FUTURE")
	require.Empty(t, summary.Failed)
}

func TestRotationScheduler_EnsureSuccessfulRotationStopsOnFirstCleanPass(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	setup := h.engine.InitialSetupDomain(ctx, "svc", SetupOptions{RotationIntervalDays: 1})
	require.True(t, setup.IsOK())

	policy, err := h.policyStore.FindByDomain(ctx, "SVC")
	require.NoError(t, err)
	policy.NextRotationAt = time.Now().Add(-time.Hour)
	require.NoError(t, h.policyStore.UpdatePolicy(ctx, policy))

	cfg := NewSchedulerConfig()
	require.NoError(t, cfg.SetRetryIntervalMS(60_000))
	require.NoError(t, cfg.SetMaxRetries(3))
	sched := NewRotationScheduler(h.engine, h.policyStore, cfg, nil)

	summary := sched.RunScheduledRotation(ctx)
	require.Len(t, summary.Succeeded, 1)
	require.Empty(t, summary.Failed)
}

func TestRotationScheduler_TriggerDomainRotationBypassesSchedule(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	setup := h.engine.InitialSetupDomain(ctx, "svc", SetupOptions{RotationIntervalDays: 365})
	require.True(t, setup.IsOK())

	sched := NewRotationScheduler(h.engine, h.policyStore, nil, nil)
	result := sched.TriggerDomainRotation(ctx, "svc")
	require.True(t, result.IsOK())
}

func TestRotationScheduler_Configure(t *testing.T) {
	h := newTestHarness(t)
	sched := NewRotationScheduler(h.engine, h.policyStore, nil, nil)

	ms := 120_000
	retries := 5
	require.NoError(t, sched.Configure(&ms, &retries))
	require.Equal(t, ms, sched.cfg.RetryIntervalMs())
	require.Equal(t, retries, sched.cfg.MaxRetries())

	bad := 59_999
	require.ErrorIs(t, sched.Configure(&bad, nil), ErrOutOfRange)
}
