// Package notify hands verification codes to the delivery channel. The
// code passes through here in plaintext exactly once and is never stored.
package notify

import (
	"context"

	"agroassist-auth/internal/models"
	"agroassist-auth/internal/util"
)

// Sender delivers a verification code to an identifier. Implementations
// choose the channel from the identifier shape (phone vs email).
type Sender interface {
	Send(ctx context.Context, identifier, code string, purpose models.OTPPurpose, method models.DeliveryMethod) error
}

// LogSender is the development sender. It logs that a delivery happened
// but never the code itself.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, identifier, code string, purpose models.OTPPurpose, method models.DeliveryMethod) error {
	util.Info("verification code dispatched",
		util.String("method", string(method)),
		util.String("purpose", string(purpose)))
	return nil
}
