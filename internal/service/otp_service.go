package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/singlespine-new/otp-service/internal/clock"
	"github.com/singlespine-new/otp-service/internal/config"
	"github.com/singlespine-new/otp-service/internal/models"
	"github.com/singlespine-new/otp-service/internal/phone"
	"github.com/singlespine-new/otp-service/internal/sms"
	"github.com/singlespine-new/otp-service/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Result is the caller-visible outcome of an OTP operation. Message is
// human-readable and never contains the stored code.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Phone   string `json:"-"`
}

// OTPService issues and verifies one-time passcodes. A code becomes valid
// only after the SMS gateway accepts it, is usable once, expires after the
// configured TTL, and tolerates a fixed number of wrong submissions.
type OTPService struct {
	store   store.Store
	sender  sms.Sender
	clock   clock.Clock
	cfg     *config.OTPConfig
	metrics *Metrics
	logger  *logrus.Logger
}

func NewOTPService(
	st store.Store,
	sender sms.Sender,
	clk clock.Clock,
	cfg *config.OTPConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		store:   st,
		sender:  sender,
		clock:   clk,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// RequestOTP validates the phone number, enforces the resend cooldown,
// generates a fresh code, and stores it only after the SMS gateway accepts
// the dispatch. An undelivered code must never become valid.
//
// The returned error is non-nil only for internal failures; every expected
// rejection (bad format, cooldown, dispatch failure) comes back as an
// unsuccessful Result.
func (s *OTPService) RequestOTP(ctx context.Context, rawPhone string) (Result, error) {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		s.metrics.IncRequest("invalid_phone")
		return Result{
			Success: false,
			Message: "Invalid phone number. Use the 0XXXXXXXXX or +233XXXXXXXXX format.",
		}, nil
	}

	// A live record issued less than ResendCooldown ago blocks a resend. The
	// record's remaining TTL tells us when it was issued.
	if rec, getErr := s.store.Get(ctx, canonical); getErr == nil {
		remaining := rec.ExpiresAt.Sub(s.clock.Now()) - (s.cfg.Expiry - s.cfg.ResendCooldown)
		if remaining > 0 {
			s.metrics.IncRequest("rate_limited")
			return Result{
				Success: false,
				Message: fmt.Sprintf("An OTP was sent recently. Please wait %s before requesting a new one.", formatWait(remaining)),
				Phone:   canonical,
			}, nil
		}
	} else if !errors.Is(getErr, store.ErrNotFound) {
		s.metrics.IncRequest("error")
		return Result{}, fmt.Errorf("failed to check existing OTP: %w", getErr)
	}

	code, err := s.generateCode()
	if err != nil {
		s.metrics.IncRequest("error")
		return Result{}, fmt.Errorf("failed to generate OTP: %w", err)
	}

	expiryMinutes := int(s.cfg.Expiry.Minutes())
	message := fmt.Sprintf("Your Singlespine verification code is %s. It expires in %d minutes.", code, expiryMinutes)

	start := s.clock.Now()
	messageID, err := s.sender.Send(ctx, canonical, message)
	s.metrics.ObserveSMSDispatch(dispatchResult(err), s.clock.Now().Sub(start).Seconds())
	if err != nil {
		s.logger.WithError(err).WithField("phone", canonical).Error("Failed to dispatch OTP SMS")
		s.metrics.IncRequest("dispatch_failed")
		return Result{
			Success: false,
			Message: "Failed to send OTP. Please try again.",
			Phone:   canonical,
		}, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		s.metrics.IncRequest("error")
		return Result{}, fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.clock.Now()
	rec := models.OTPRecord{
		CodeHash:  string(hash),
		Phone:     canonical,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		s.metrics.IncRequest("error")
		return Result{}, fmt.Errorf("failed to store OTP: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"phone":      canonical,
		"message_id": messageID,
	}).Info("OTP dispatched")
	s.metrics.IncRequest("sent")

	return Result{
		Success: true,
		Message: fmt.Sprintf("OTP sent to %s. It expires in %d minutes.", canonical, expiryMinutes),
		Phone:   canonical,
	}, nil
}

// VerifyOTP checks a submitted code against the live record. A match
// consumes the record; a mismatch increments the attempt counter first and
// then reports the remaining allowance.
func (s *OTPService) VerifyOTP(ctx context.Context, rawPhone, submittedCode string) (Result, error) {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		s.metrics.IncVerification("invalid_phone")
		return Result{
			Success: false,
			Message: "Invalid phone number. Use the 0XXXXXXXXX or +233XXXXXXXXX format.",
		}, nil
	}

	rec, err := s.store.Get(ctx, canonical)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.IncVerification("not_found")
			return Result{
				Success: false,
				Message: "OTP not found or expired. Please request a new code.",
				Phone:   canonical,
			}, nil
		}
		s.metrics.IncVerification("error")
		return Result{}, fmt.Errorf("failed to look up OTP: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(submittedCode)) != nil {
		attempts, incErr := s.store.RecordFailedAttempt(ctx, canonical)
		if incErr != nil {
			if errors.Is(incErr, store.ErrNotFound) {
				// The record expired or was capped by a concurrent attempt
				// between the lookup and the increment.
				s.metrics.IncVerification("not_found")
				return Result{
					Success: false,
					Message: "OTP not found or expired. Please request a new code.",
					Phone:   canonical,
				}, nil
			}
			s.metrics.IncVerification("error")
			return Result{}, fmt.Errorf("failed to record OTP attempt: %w", incErr)
		}

		s.metrics.IncVerification("invalid_code")
		return Result{
			Success: false,
			Message: fmt.Sprintf("Invalid OTP. %d attempts remaining.", s.cfg.MaxAttempts-attempts),
			Phone:   canonical,
		}, nil
	}

	// One-time use: the record is gone before the caller sees success.
	if err := s.store.Evict(ctx, canonical); err != nil {
		s.metrics.IncVerification("error")
		return Result{}, fmt.Errorf("failed to consume OTP: %w", err)
	}

	s.logger.WithField("phone", canonical).Info("OTP verified")
	s.metrics.IncVerification("verified")

	return Result{
		Success: true,
		Message: "Phone number verified successfully.",
		Phone:   canonical,
	}, nil
}

// generateCode draws a uniform random integer in [10^(n-1), 10^n) so the
// rendered code is always exactly n digits.
func (s *OTPService) generateCode() (string, error) {
	min := int64(1)
	for i := 1; i < s.cfg.Length; i++ {
		min *= 10
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9*min))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+min), nil
}

func dispatchResult(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func formatWait(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs < 60 {
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := (secs + 59) / 60
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
