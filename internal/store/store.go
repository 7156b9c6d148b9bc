// Package store holds live OTP records keyed by canonical phone number.
//
// Two implementations exist: Memory for a single process, and Redis for
// horizontally scaled deployments where every instance must see the same
// records.
package store

import (
	"context"
	"errors"

	"github.com/singlespine-new/otp-service/internal/models"
)

// ErrNotFound is returned by Get when no live record exists for the phone
// number: never requested, already consumed, expired, or attempt-capped.
var ErrNotFound = errors.New("otp record not found or expired")

// Store maps canonical phone numbers to their single live OTPRecord.
type Store interface {
	// Put inserts or overwrites the record for rec.Phone.
	Put(ctx context.Context, rec models.OTPRecord) error

	// Get returns the live record, or ErrNotFound. Expired records are
	// evicted as a side effect and reported as not found.
	Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error)

	// RecordFailedAttempt atomically increments the attempt counter and
	// returns the new value. When the counter reaches the cap the record is
	// evicted immediately, so the next Get reports ErrNotFound.
	RecordFailedAttempt(ctx context.Context, phoneNumber string) (int, error)

	// Evict removes the record unconditionally.
	Evict(ctx context.Context, phoneNumber string) error
}
