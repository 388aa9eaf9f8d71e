package messaging

import (
	"context"
	"log/slog"

	"scroll-press/internal/observability"
)

// LogMailer stands in for the broker in development. It logs who would be
// mailed; links are logged only when revealLinks is set.
type LogMailer struct {
	revealLinks bool
}

func NewLogMailer(revealLinks bool) *LogMailer {
	return &LogMailer{revealLinks: revealLinks}
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, to, link string) error {
	return m.Handle(ctx, newEmailCommand(EmailVerification, to, link))
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	return m.Handle(ctx, newEmailCommand(EmailPasswordReset, to, link))
}

// Handle logs cmd. It doubles as the EmailConsumer handler in development.
func (m *LogMailer) Handle(ctx context.Context, cmd *EmailCommand) error {
	attrs := []any{slog.String("type", cmd.Type), slog.String("to", cmd.To)}
	if m.revealLinks {
		attrs = append(attrs, slog.String("link", cmd.Link))
	}
	observability.FromContext(ctx).Info("email command", attrs...)
	return nil
}
