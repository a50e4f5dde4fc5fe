package infrastructure

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// NotificationService shows desktop notifications for session events
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(ctx context.Context, name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Name implements domain.EventSink
func (n *NotificationService) Name() string {
	return "notification"
}

// Publish implements domain.EventSink. Only completions and failures are
// worth interrupting the user for.
func (n *NotificationService) Publish(ctx context.Context, event domain.SessionEvent) error {
	s := event.Session
	label := s.Metadata.Title
	if label == "" {
		label = truncateString(s.URL, 40)
	}

	switch event.Type {
	case domain.EventCompleted:
		return n.Send(ctx, "Download Completed", fmt.Sprintf("%s (%s)", label, s.Platform))
	case domain.EventFailed:
		reason := "unknown error"
		if s.Error != nil {
			reason = truncateString(s.Error.Message, 60)
		}
		return n.Send(ctx, "Download Failed", fmt.Sprintf("%s (%s): %s", label, s.Platform, reason))
	default:
		return nil
	}
}

// Send sends a notification
func (n *NotificationService) Send(ctx context.Context, title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, appleScriptQuote(message), appleScriptQuote(title))
		if n.config.Sound {
			script += ` sound name "Glass"`
		}
		err = n.run(ctx, "osascript", "-e", script)
	case "notify-send":
		err = n.run(ctx, "notify-send", "--app-name=social-dl", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
