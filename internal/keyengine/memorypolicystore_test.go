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
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// memoryPolicySession is the transactional handle for memoryPolicyStore. It
// buffers writes and only applies them to the store on commit, following
// the PolicyStore contract's start/commit/abort/end session lifecycle.
type memoryPolicySession struct {
	store   *memoryPolicyStore
	pending map[string]RotationPolicy
	active  bool
	aborted bool
}

func (s *memoryPolicySession) StartTransaction(context.Context) error {
	s.active = true
	s.pending = make(map[string]RotationPolicy)
	return nil
}

func (s *memoryPolicySession) CommitTransaction(context.Context) error {
	if !s.active {
		return fmt.Errorf("%w: commit without active transaction", ErrStoreFailure)
	}
	if s.store.failCommit {
		return fmt.Errorf("%w: injected commit failure", ErrStoreFailure)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for domain, policy := range s.pending {
		s.store.policies[domain] = policy
	}
	s.active = false
	return nil
}

func (s *memoryPolicySession) AbortTransaction(context.Context) error {
	s.aborted = true
	s.active = false
	s.pending = nil
	return nil
}

func (s *memoryPolicySession) EndSession(context.Context) error {
	s.active = false
	return nil
}

// memoryPolicyStore is an in-process PolicyStore used by engine/scheduler
// unit tests, grounded on internal/session.MemoryStore's in-memory,
// mutex-guarded map style.
type memoryPolicyStore struct {
	mu         sync.Mutex
	policies   map[string]RotationPolicy
	failCommit bool // injects a commit failure for rollback-path tests
}

func newMemoryPolicyStore() *memoryPolicyStore {
	return &memoryPolicyStore{policies: make(map[string]RotationPolicy)}
}

var _ PolicyStore = (*memoryPolicyStore)(nil)

func (m *memoryPolicyStore) FindByDomain(_ context.Context, domain string) (RotationPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[domain]
	if !ok {
		return RotationPolicy{}, fmt.Errorf("%w: policy for %s", ErrNotFound, domain)
	}
	return p, nil
}

func (m *memoryPolicyStore) CreatePolicy(_ context.Context, policy RotationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.Domain]; ok {
		return fmt.Errorf("%w: policy for %s", ErrAlreadyExists, policy.Domain)
	}
	m.policies[policy.Domain] = policy
	return nil
}

func (m *memoryPolicyStore) UpdatePolicy(_ context.Context, policy RotationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.Domain]; !ok {
		return fmt.Errorf("%w: policy for %s", ErrNotFound, policy.Domain)
	}
	m.policies[policy.Domain] = policy
	return nil
}

func (m *memoryPolicyStore) DeletePolicy(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, domain)
	return nil
}

func (m *memoryPolicyStore) Enable(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[domain]
	if !ok {
		return fmt.Errorf("%w: policy for %s", ErrNotFound, domain)
	}
	p.Enabled = true
	m.policies[domain] = p
	return nil
}

func (m *memoryPolicyStore) Disable(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[domain]
	if !ok {
		return fmt.Errorf("%w: policy for %s", ErrNotFound, domain)
	}
	p.Enabled = false
	m.policies[domain] = p
	return nil
}

func (m *memoryPolicyStore) GetDueForRotation(_ context.Context, now time.Time) ([]RotationPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []RotationPolicy
	for _, p := range m.policies {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (m *memoryPolicyStore) UpdateRotationDates(_ context.Context, session PolicySession, domain, activeKid string, rotatedAt, nextRotationAt time.Time) error {
	sess, ok := session.(*memoryPolicySession)
	if !ok || !sess.active {
		return fmt.Errorf("%w: invalid session", ErrStoreFailure)
	}
	m.mu.Lock()
	p, ok := m.policies[domain]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: policy for %s", ErrNotFound, domain)
	}
	p.ActiveKid = activeKid
	p.RotatedAt = rotatedAt
	p.NextRotationAt = nextRotationAt
	sess.pending[domain] = p
	return nil
}

func (m *memoryPolicyStore) AcknowledgeSuccessfulRotation(ctx context.Context, session PolicySession, ack RotationAck, newKid string, now time.Time) error {
	sess, ok := session.(*memoryPolicySession)
	if !ok || !sess.active {
		return fmt.Errorf("%w: invalid session", ErrStoreFailure)
	}
	m.mu.Lock()
	p, ok := m.policies[ack.Domain]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: policy for %s", ErrNotFound, ack.Domain)
	}
	if p.ActiveKid != ack.ExpectedOldKid {
		return fmt.Errorf("%w: active_kid for domain %s is %q, expected %q",
			ErrPreconditionFailed, ack.Domain, p.ActiveKid, ack.ExpectedOldKid)
	}

	next := now.Add(time.Duration(ack.RotationIntervalDays) * 24 * time.Hour)
	if p.Schedule != "" {
		if sched, err := cron.ParseStandard(p.Schedule); err == nil {
			next = sched.Next(now)
		}
	}

	p.ActiveKid = newKid
	p.RotatedAt = now
	p.NextRotationAt = next
	sess.pending[ack.Domain] = p
	return nil
}

func (m *memoryPolicyStore) GetSession(context.Context) (PolicySession, error) {
	return &memoryPolicySession{store: m}, nil
}
