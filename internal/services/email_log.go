package services

import (
	"context"
	"log/slog"

	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
)

// LogEmailService records that a message would have been sent. Bodies carry
// secrets, so only the subject and a masked recipient are logged. Development only.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.InfoContext(ctx, "email delivery skipped (log provider)",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject))
	return nil
}
