package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/singlespine-new/otp-service/internal/config"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/sirupsen/logrus"
)

// JWTService signs and verifies the HS256 access/refresh token pairs issued
// after a successful OTP verification.
type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
	}, nil
}

type Claims struct {
	Phone string `json:"phone"`
	Type  string `json:"type"`
	JTI   string `json:"jti"`
	jwt.RegisteredClaims
}

// GeneratePair issues a fresh access/refresh token pair for the phone
// number. familyID ties rotated refresh tokens together; pass "" to start a
// new family. The family ID in use is returned alongside the pair.
func (s *JWTService) GeneratePair(phoneNumber, familyID string) (*models.TokenPair, string, error) {
	if familyID == "" {
		familyID = uuid.New().String()
	}

	now := time.Now()

	accessToken, err := s.sign(phoneNumber, "access", now, s.accessExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, "", fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.sign(phoneNumber, "refresh", now, s.refreshExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, familyID, nil
}

func (s *JWTService) sign(phoneNumber, tokenType string, now time.Time, expiry time.Duration) (string, error) {
	jti := uuid.New().String()
	claims := &Claims{
		Phone: phoneNumber,
		Type:  tokenType,
		JTI:   jti,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phoneNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// RefreshTokens validates a refresh token and rotates it into a new pair
// within the same token family.
func (s *JWTService) RefreshTokens(refreshTokenString, familyID string) (*models.TokenPair, string, error) {
	claims, err := s.VerifyToken(refreshTokenString)
	if err != nil {
		return nil, "", fmt.Errorf("invalid refresh token: %w", err)
	}

	if claims.Type != "refresh" {
		return nil, "", fmt.Errorf("token is not a refresh token")
	}

	return s.GeneratePair(claims.Phone, familyID)
}

// GenerateSecretKey produces a random 256-bit key for JWT_SECRET_KEY.
func GenerateSecretKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
