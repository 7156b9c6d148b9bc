package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/sirupsen/logrus"
)

// failedAttemptScript increments the attempt counter and deletes the key once
// the cap is reached, in one atomic step. Two concurrent wrong submissions
// can therefore never both observe the same pre-increment count.
var failedAttemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts >= tonumber(ARGV[1]) then
	redis.call("DEL", KEYS[1])
end
return attempts
`)

// Redis is a shared Store for horizontally scaled deployments. Each record is
// a hash under otp:<canonical phone> with a native TTL, so expiry needs no
// sweeper and attempt counting is atomic per key.
type Redis struct {
	client      *redis.Client
	maxAttempts int
	logger      *logrus.Logger
}

// NewRedis returns a Store backed by the given Redis client.
func NewRedis(client *redis.Client, maxAttempts int, logger *logrus.Logger) *Redis {
	return &Redis{
		client:      client,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func otpKey(phoneNumber string) string {
	return fmt.Sprintf("otp:%s", phoneNumber)
}

// Put inserts or overwrites the record for rec.Phone with a TTL matching its
// expiry.
func (r *Redis) Put(ctx context.Context, rec models.OTPRecord) error {
	key := otpKey(rec.Phone)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"code_hash", rec.CodeHash,
		"phone", rec.Phone,
		"attempts", rec.Attempts,
		"created_at", rec.CreatedAt.Format(time.RFC3339Nano),
		"expires_at", rec.ExpiresAt.Format(time.RFC3339Nano),
	)
	pipe.PExpireAt(ctx, key, rec.ExpiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to store OTP record in Redis")
		return fmt.Errorf("failed to store OTP record: %w", err)
	}
	return nil
}

// Get returns the live record or ErrNotFound. Redis evicts expired keys
// itself, so an existing key is always live.
func (r *Redis) Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error) {
	fields, err := r.client.HGetAll(ctx, otpKey(phoneNumber)).Result()
	if err != nil {
		r.logger.WithError(err).Error("Failed to get OTP record from Redis")
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := recordFromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode OTP record: %w", err)
	}
	return rec, nil
}

// RecordFailedAttempt runs the atomic increment-and-cap script.
func (r *Redis) RecordFailedAttempt(ctx context.Context, phoneNumber string) (int, error) {
	res, err := failedAttemptScript.Run(ctx, r.client,
		[]string{otpKey(phoneNumber)}, r.maxAttempts).Int64()
	if err != nil {
		r.logger.WithError(err).Error("Failed to record OTP attempt in Redis")
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	if res < 0 {
		return 0, ErrNotFound
	}
	return int(res), nil
}

// Evict removes the record unconditionally.
func (r *Redis) Evict(ctx context.Context, phoneNumber string) error {
	if err := r.client.Del(ctx, otpKey(phoneNumber)).Err(); err != nil {
		return fmt.Errorf("failed to evict OTP record: %w", err)
	}
	return nil
}

func recordFromFields(fields map[string]string) (*models.OTPRecord, error) {
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, err
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, err
	}

	return &models.OTPRecord{
		CodeHash:  fields["code_hash"],
		Phone:     fields["phone"],
		Attempts:  attempts,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}
