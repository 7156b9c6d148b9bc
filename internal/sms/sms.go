// Package sms is the outbound SMS gateway boundary.
package sms

import "context"

// Sender dispatches a single message to a phone number in canonical +233
// form. On success it returns the provider's opaque message identifier.
// Dispatch is a single fallible call; callers decide what a failure means,
// senders do not retry.
type Sender interface {
	Send(ctx context.Context, to, message string) (string, error)
}
