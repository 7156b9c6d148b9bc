package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/singlespine-new/otp-service/internal/config"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/singlespine-new/otp-service/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOTPProvider struct {
	requestResult service.Result
	requestErr    error
	verifyResult  service.Result
	verifyErr     error
	lastPhone     string
	lastCode      string
}

func (f *fakeOTPProvider) RequestOTP(_ context.Context, rawPhone string) (service.Result, error) {
	f.lastPhone = rawPhone
	return f.requestResult, f.requestErr
}

func (f *fakeOTPProvider) VerifyOTP(_ context.Context, rawPhone, code string) (service.Result, error) {
	f.lastPhone = rawPhone
	f.lastCode = code
	return f.verifyResult, f.verifyErr
}

type fakeUserStore struct {
	user *models.User
	err  error
}

func (f *fakeUserStore) GetOrCreate(_ context.Context, phoneNumber string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil {
		return f.user, nil
	}
	return &models.User{PhoneNumber: phoneNumber}, nil
}

type fakeTokenStore struct {
	stored  map[string]models.RefreshTokenData
	revoked map[string]bool
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		stored:  make(map[string]models.RefreshTokenData),
		revoked: make(map[string]bool),
	}
}

func (f *fakeTokenStore) Store(_ context.Context, jti, phone, familyID string, expiresAt time.Time) error {
	f.stored[jti] = models.RefreshTokenData{
		JTI:       jti,
		Phone:     phone,
		FamilyID:  familyID,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeTokenStore) Get(_ context.Context, jti string) (*models.RefreshTokenData, error) {
	data, ok := f.stored[jti]
	if !ok {
		return nil, errors.New("refresh token not found")
	}
	return &data, nil
}

func (f *fakeTokenStore) Revoke(_ context.Context, jti string) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeTokenStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func newTestHandlers(t *testing.T, otp *fakeOTPProvider) (*AuthHandlers, *fakeTokenStore, *service.JWTService) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	tokens := newFakeTokenStore()
	h := NewAuthHandlers(otp, jwtService, tokens, &fakeUserStore{}, logger)
	return h, tokens, jwtService
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRequestOTPHandlerSuccess(t *testing.T) {
	otp := &fakeOTPProvider{
		requestResult: service.Result{
			Success: true,
			Message: "OTP sent to +233241234567. It expires in 10 minutes.",
			Phone:   "+233241234567",
		},
	}
	h, _, _ := newTestHandlers(t, otp)

	rec := postJSON(t, h.RequestOTP, `{"phoneNumber":" 0241234567 "}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0241234567", otp.lastPhone, "surrounding whitespace is trimmed")

	var resp OTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "+233241234567")
}

func TestRequestOTPHandlerRejection(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{name: "invalid phone", message: "Invalid phone number. Use the 0XXXXXXXXX or +233XXXXXXXXX format."},
		{name: "cooldown", message: "An OTP was sent recently. Please wait 1 minute before requesting a new one."},
		{name: "dispatch failure", message: "Failed to send OTP. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			otp := &fakeOTPProvider{
				requestResult: service.Result{Success: false, Message: tt.message},
			}
			h, _, _ := newTestHandlers(t, otp)

			rec := postJSON(t, h.RequestOTP, `{"phoneNumber":"0241234567"}`)

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp OTPResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestRequestOTPHandlerMalformedBody(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeOTPProvider{})

	rec := postJSON(t, h.RequestOTP, `{not json`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp OTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestRequestOTPHandlerInternalError(t *testing.T) {
	otp := &fakeOTPProvider{requestErr: errors.New("store down")}
	h, _, _ := newTestHandlers(t, otp)

	rec := postJSON(t, h.RequestOTP, `{"phoneNumber":"0241234567"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internals never leak to the client.
	assert.NotContains(t, rec.Body.String(), "store down")
}

func TestVerifyOTPHandlerSuccessIssuesSession(t *testing.T) {
	otp := &fakeOTPProvider{
		verifyResult: service.Result{
			Success: true,
			Message: "Phone number verified successfully.",
			Phone:   "+233241234567",
		},
	}
	h, tokens, jwtService := newTestHandlers(t, otp)

	rec := postJSON(t, h.VerifyOTP, `{"phoneNumber":"0241234567","otp":"123456"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", otp.lastCode)

	var resp VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	require.NotNil(t, resp.User)
	assert.Equal(t, "+233241234567", resp.User.PhoneNumber)

	// The refresh token was recorded for later revocation.
	claims, err := jwtService.VerifyToken(resp.RefreshToken)
	require.NoError(t, err)
	_, ok := tokens.stored[claims.JTI]
	assert.True(t, ok)
}

func TestVerifyOTPHandlerFailure(t *testing.T) {
	otp := &fakeOTPProvider{
		verifyResult: service.Result{
			Success: false,
			Message: "Invalid OTP. 2 attempts remaining.",
			Phone:   "+233241234567",
		},
	}
	h, tokens, _ := newTestHandlers(t, otp)

	rec := postJSON(t, h.VerifyOTP, `{"phoneNumber":"0241234567","otp":"000000"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, tokens.stored, "no session issued on failed verification")

	var resp VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Empty(t, resp.AccessToken)
	assert.Nil(t, resp.User)
}

func TestVerifyOTPHandlerMalformedBody(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeOTPProvider{})

	rec := postJSON(t, h.VerifyOTP, `[]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestVerifyOTPHandlerUserStoreFailure(t *testing.T) {
	otp := &fakeOTPProvider{
		verifyResult: service.Result{Success: true, Message: "ok", Phone: "+233241234567"},
	}
	h, _, _ := newTestHandlers(t, otp)
	h.userRepo = &fakeUserStore{err: errors.New("dynamo down")}

	rec := postJSON(t, h.VerifyOTP, `{"phoneNumber":"0241234567","otp":"123456"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "dynamo down")
}

func TestRefreshTokenHandlerRotation(t *testing.T) {
	h, tokens, jwtService := newTestHandlers(t, &fakeOTPProvider{})

	pair, familyID, err := jwtService.GeneratePair("+233241234567", "")
	require.NoError(t, err)
	claims, err := jwtService.VerifyToken(pair.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, tokens.Store(context.Background(), claims.JTI, "+233241234567", familyID, claims.ExpiresAt.Time))

	body, _ := json.Marshal(RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	rec := postJSON(t, h.RefreshToken, string(body))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp RefreshTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AccessToken)

	// The old token was revoked and the new one stored in the same family.
	assert.True(t, tokens.revoked[claims.JTI])
	newClaims, err := jwtService.VerifyToken(resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, familyID, tokens.stored[newClaims.JTI].FamilyID)
}

func TestRefreshTokenHandlerRevoked(t *testing.T) {
	h, tokens, jwtService := newTestHandlers(t, &fakeOTPProvider{})

	pair, _, err := jwtService.GeneratePair("+233241234567", "")
	require.NoError(t, err)
	claims, err := jwtService.VerifyToken(pair.RefreshToken)
	require.NoError(t, err)
	tokens.revoked[claims.JTI] = true

	body, _ := json.Marshal(RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	rec := postJSON(t, h.RefreshToken, string(body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshTokenHandlerRejectsAccessToken(t *testing.T) {
	h, _, jwtService := newTestHandlers(t, &fakeOTPProvider{})

	pair, _, err := jwtService.GeneratePair("+233241234567", "")
	require.NoError(t, err)

	body, _ := json.Marshal(RefreshTokenRequest{RefreshToken: pair.AccessToken})
	rec := postJSON(t, h.RefreshToken, string(body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshTokenHandlerMissingToken(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeOTPProvider{})

	rec := postJSON(t, h.RefreshToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
