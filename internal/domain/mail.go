package domain

import "context"

// Mailer hands account emails to the delivery collaborator. Links carry
// plaintext single-use tokens and must not be logged.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, link string) error
	SendPasswordResetEmail(ctx context.Context, to, link string) error
}
