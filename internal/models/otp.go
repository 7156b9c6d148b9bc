package models

import "time"

// OTPRecord is the live verification state for one canonical phone number.
// At most one record exists per phone; requesting a new code overwrites it.
type OTPRecord struct {
	CodeHash  string    `json:"code_hash"`
	Phone     string    `json:"phone"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
