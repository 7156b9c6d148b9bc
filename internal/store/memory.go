package store

import (
	"context"
	"sync"
	"time"

	"github.com/singlespine-new/otp-service/internal/clock"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Memory is a process-local Store. All access is serialized with a single
// mutex; the working set is one record per phone number mid-verification, so
// finer locking buys nothing. Records created on one instance are invisible
// to others; use the Redis store when running more than one instance.
type Memory struct {
	mu          sync.Mutex
	records     map[string]models.OTPRecord
	clock       clock.Clock
	maxAttempts int
	logger      *logrus.Logger
}

// NewMemory returns an empty in-memory store. maxAttempts is the wrong-code
// cap after which a record is evicted.
func NewMemory(clk clock.Clock, maxAttempts int, logger *logrus.Logger) *Memory {
	return &Memory{
		records:     make(map[string]models.OTPRecord),
		clock:       clk,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Put inserts or overwrites the record for rec.Phone.
func (m *Memory) Put(_ context.Context, rec models.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Phone] = rec
	return nil
}

// Get returns the live record or ErrNotFound, evicting expired entries
// lazily.
func (m *Memory) Get(_ context.Context, phoneNumber string) (*models.OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[phoneNumber]
	if !ok {
		return nil, ErrNotFound
	}
	if m.clock.Now().After(rec.ExpiresAt) {
		delete(m.records, phoneNumber)
		return nil, ErrNotFound
	}
	return &rec, nil
}

// RecordFailedAttempt increments the attempt counter under the store lock,
// evicting the record once the cap is reached.
func (m *Memory) RecordFailedAttempt(_ context.Context, phoneNumber string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[phoneNumber]
	if !ok || m.clock.Now().After(rec.ExpiresAt) {
		delete(m.records, phoneNumber)
		return 0, ErrNotFound
	}

	rec.Attempts++
	if rec.Attempts >= m.maxAttempts {
		delete(m.records, phoneNumber)
	} else {
		m.records[phoneNumber] = rec
	}
	return rec.Attempts, nil
}

// Evict removes the record unconditionally.
func (m *Memory) Evict(_ context.Context, phoneNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, phoneNumber)
	return nil
}

// StartSweeper periodically removes entries whose expiry is already in the
// past, bounding growth from abandoned requests. Entries that are merely
// close to expiring are left alone, which keeps the race with concurrent
// requests benign. The sweeper stops when ctx is cancelled.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	evicted := 0
	for phone, rec := range m.records {
		if now.After(rec.ExpiresAt) {
			delete(m.records, phone)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.WithField("evicted", evicted).Debug("Swept expired OTP records")
	}
}

// Len reports the number of live entries, expired or not. Used by tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
