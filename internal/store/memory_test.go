package store

import (
	"context"
	"testing"
	"time"

	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T) (*Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	return NewMemory(clk, 3, logger), clk
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func record(phone string, now time.Time) models.OTPRecord {
	return models.OTPRecord{
		CodeHash:  "$2a$10$fakehash",
		Phone:     phone,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestMemoryPutGet(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))

	got, err := m.Get(ctx, "+233241234567")
	require.NoError(t, err)
	assert.Equal(t, "+233241234567", got.Phone)
	assert.Equal(t, 0, got.Attempts)
}

func TestMemoryGetAbsent(t *testing.T) {
	m, _ := newTestMemory(t)

	_, err := m.Get(context.Background(), "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPutOverwrites(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	first := record("+233241234567", clk.Now())
	first.CodeHash = "first"
	require.NoError(t, m.Put(ctx, first))

	second := record("+233241234567", clk.Now())
	second.CodeHash = "second"
	require.NoError(t, m.Put(ctx, second))

	got, err := m.Get(ctx, "+233241234567")
	require.NoError(t, err)
	assert.Equal(t, "second", got.CodeHash)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryExpiry(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))

	clk.Advance(10*time.Minute + time.Second)

	_, err := m.Get(ctx, "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)
	// Lazy eviction removed the entry, not just hid it.
	assert.Equal(t, 0, m.Len())
}

func TestMemoryRecordFailedAttempt(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))

	attempts, err := m.RecordFailedAttempt(ctx, "+233241234567")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = m.RecordFailedAttempt(ctx, "+233241234567")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	// Third failure hits the cap and evicts immediately.
	attempts, err = m.RecordFailedAttempt(ctx, "+233241234567")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	_, err = m.Get(ctx, "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRecordFailedAttemptAbsent(t *testing.T) {
	m, _ := newTestMemory(t)

	_, err := m.RecordFailedAttempt(context.Background(), "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRecordFailedAttemptExpired(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))
	clk.Advance(11 * time.Minute)

	_, err := m.RecordFailedAttempt(ctx, "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEvict(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))
	require.NoError(t, m.Evict(ctx, "+233241234567"))

	_, err := m.Get(ctx, "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)

	// Evicting an absent record is a no-op.
	assert.NoError(t, m.Evict(ctx, "+233241234567"))
}

func TestMemorySweep(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record("+233241234567", clk.Now())))
	clk.Advance(5 * time.Minute)
	require.NoError(t, m.Put(ctx, record("+233501234567", clk.Now())))

	// First record is now past expiry; second still has 5 minutes left.
	clk.Advance(5*time.Minute + time.Second)
	m.sweep()

	_, err := m.Get(ctx, "+233241234567")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.Get(ctx, "+233501234567")
	require.NoError(t, err)
	assert.Equal(t, "+233501234567", got.Phone)
	assert.Equal(t, 1, m.Len())
}
