package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/singlespine-new/otp-service/internal/middleware"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/singlespine-new/otp-service/internal/service"
	"github.com/sirupsen/logrus"
)

// OTPProvider is the issuance/verification surface the handlers consume.
type OTPProvider interface {
	RequestOTP(ctx context.Context, rawPhone string) (service.Result, error)
	VerifyOTP(ctx context.Context, rawPhone, submittedCode string) (service.Result, error)
}

// UserStore creates or loads the user bound to a verified phone number.
type UserStore interface {
	GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error)
}

// TokenStore tracks refresh tokens for revocation.
type TokenStore interface {
	Store(ctx context.Context, jti, phone, familyID string, expiresAt time.Time) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuthHandlers struct {
	otpService   OTPProvider
	jwtService   *service.JWTService
	refreshToken TokenStore
	userRepo     UserStore
	logger       *logrus.Logger
}

func NewAuthHandlers(
	otpService OTPProvider,
	jwtService *service.JWTService,
	refreshToken TokenStore,
	userRepo UserStore,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:   otpService,
		jwtService:   jwtService,
		refreshToken: refreshToken,
		userRepo:     userRepo,
		logger:       logger,
	}
}

type RequestOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

// OTPResponse is the wire shape shared by both OTP operations.
type OTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyOTPResponse extends OTPResponse with the session issued on success.
type VerifyOTPResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	TokenType    string        `json:"token_type,omitempty"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	User         *UserResponse `json:"user,omitempty"`
}

type UserResponse struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RequestOTP handles POST /api/v1/auth/request-otp.
func (h *AuthHandlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Malformed request-OTP body")
		h.respondInternalError(w)
		return
	}

	result, err := h.otpService.RequestOTP(r.Context(), strings.TrimSpace(req.PhoneNumber))
	if err != nil {
		h.logger.WithError(err).Error("OTP request failed")
		h.respondInternalError(w)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	h.respondWithJSON(w, status, OTPResponse{
		Success: result.Success,
		Message: result.Message,
	})
}

// VerifyOTP handles POST /api/v1/auth/verify-otp. A successful verification
// also runs the credential flow: get-or-create the user and issue a session
// token pair.
func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Malformed verify-OTP body")
		h.respondInternalError(w)
		return
	}

	result, err := h.otpService.VerifyOTP(r.Context(), strings.TrimSpace(req.PhoneNumber), strings.TrimSpace(req.OTP))
	if err != nil {
		h.logger.WithError(err).Error("OTP verification failed")
		h.respondInternalError(w)
		return
	}

	if !result.Success {
		h.respondWithJSON(w, http.StatusBadRequest, OTPResponse{
			Success: false,
			Message: result.Message,
		})
		return
	}

	user, err := h.userRepo.GetOrCreate(r.Context(), result.Phone)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		h.respondInternalError(w)
		return
	}

	tokenPair, familyID, err := h.jwtService.GeneratePair(result.Phone, "")
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		h.respondInternalError(w)
		return
	}

	refreshClaims, err := h.jwtService.VerifyToken(tokenPair.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Error("Failed to verify issued refresh token")
		h.respondInternalError(w)
		return
	}

	if err := h.refreshToken.Store(
		r.Context(),
		refreshClaims.JTI,
		result.Phone,
		familyID,
		refreshClaims.RegisteredClaims.ExpiresAt.Time,
	); err != nil {
		// The token is still valid; revocation just won't find it.
		h.logger.WithError(err).Error("Failed to store refresh token")
	}

	h.respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:      true,
		Message:      result.Message,
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		User: &UserResponse{
			PhoneNumber: user.PhoneNumber,
			Name:        user.Name,
		},
	})
}

// RefreshToken handles POST /api/v1/auth/refresh, rotating a refresh token
// within its family.
func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondInternalError(w)
		return
	}

	if req.RefreshToken == "" {
		h.respondWithJSON(w, http.StatusBadRequest, OTPResponse{
			Success: false,
			Message: "Refresh token is required.",
		})
		return
	}

	claims, err := h.jwtService.VerifyToken(req.RefreshToken)
	if err != nil || claims.Type != "refresh" {
		h.respondWithJSON(w, http.StatusUnauthorized, OTPResponse{
			Success: false,
			Message: "Invalid refresh token.",
		})
		return
	}

	if revoked, err := h.refreshToken.IsRevoked(r.Context(), claims.JTI); err == nil && revoked {
		h.respondWithJSON(w, http.StatusUnauthorized, OTPResponse{
			Success: false,
			Message: "Refresh token has been revoked.",
		})
		return
	}

	familyID := ""
	if tokenData, err := h.refreshToken.Get(r.Context(), claims.JTI); err == nil && tokenData != nil {
		familyID = tokenData.FamilyID
		h.refreshToken.Revoke(r.Context(), claims.JTI)
	}

	newPair, newFamilyID, err := h.jwtService.RefreshTokens(req.RefreshToken, familyID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to rotate tokens")
		h.respondInternalError(w)
		return
	}

	newClaims, err := h.jwtService.VerifyToken(newPair.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Error("Failed to verify rotated refresh token")
		h.respondInternalError(w)
		return
	}

	if err := h.refreshToken.Store(
		r.Context(),
		newClaims.JTI,
		claims.Phone,
		newFamilyID,
		newClaims.RegisteredClaims.ExpiresAt.Time,
	); err != nil {
		h.logger.WithError(err).Error("Failed to store rotated refresh token")
	}

	h.respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		Success:      true,
		AccessToken:  newPair.AccessToken,
		RefreshToken: newPair.RefreshToken,
		TokenType:    newPair.TokenType,
		ExpiresIn:    newPair.ExpiresIn,
	})
}

// Logout handles POST /api/v1/auth/logout, revoking the presented refresh
// token.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.Context().Value(middleware.ContextKeyClaims).(*service.Claims); !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, OTPResponse{
			Success: false,
			Message: "Invalid token.",
		})
		return
	}

	var req RefreshTokenRequest
	json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if claims, err := h.jwtService.VerifyToken(req.RefreshToken); err == nil && claims.Type == "refresh" {
			h.refreshToken.Revoke(r.Context(), claims.JTI)
		}
	}

	h.respondWithJSON(w, http.StatusOK, OTPResponse{
		Success: true,
		Message: "Logged out successfully.",
	})
}

// Me handles GET /api/v1/me for authenticated clients.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	phone, _ := r.Context().Value(middleware.ContextKeyPhone).(string)
	h.respondWithJSON(w, http.StatusOK, UserResponse{PhoneNumber: phone})
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondInternalError(w http.ResponseWriter) {
	h.respondWithJSON(w, http.StatusInternalServerError, OTPResponse{
		Success: false,
		Message: "Internal server error. Please try again later.",
	})
}
