package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/sirupsen/logrus"
)

// RefreshTokenService tracks issued refresh tokens in Redis so they can be
// revoked before their JWT expiry. Keys carry a TTL matching the token, so
// stale entries clean themselves up.
type RefreshTokenService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRefreshTokenService(client *redis.Client, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		client: client,
		logger: logger,
	}
}

func refreshTokenKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

func revokedTokenKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func (s *RefreshTokenService) Store(ctx context.Context, jti, phone, familyID string, expiresAt time.Time) error {
	tokenData := models.RefreshTokenData{
		JTI:       jti,
		UserID:    phone,
		Phone:     phone,
		FamilyID:  familyID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Revoked:   false,
	}

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if err := s.client.Set(ctx, refreshTokenKey(jti), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshTokenKey(jti)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("refresh token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, jti string) error {
	tokenData, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	tokenData.Revoked = true
	dataJSON, _ := json.Marshal(tokenData)

	ttl := time.Until(tokenData.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}

	if err := s.client.Set(ctx, refreshTokenKey(jti), dataJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	// Separate marker for cheap revocation checks on the hot path.
	s.client.Set(ctx, revokedTokenKey(jti), "1", ttl)

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedTokenKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// RevokeFamily revokes every live token in a rotation family, used when a
// rotated-out refresh token is replayed.
func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID string) error {
	iter := s.client.Scan(ctx, 0, "refresh_token:*", 100).Iterator()
	for iter.Next(ctx) {
		dataJSON, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var tokenData models.RefreshTokenData
		if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
			continue
		}

		if tokenData.FamilyID == familyID && !tokenData.Revoked {
			if err := s.Revoke(ctx, tokenData.JTI); err != nil {
				s.logger.WithError(err).WithField("jti", tokenData.JTI).Warn("Failed to revoke family member token")
			}
		}
	}
	return iter.Err()
}
