package service

import (
	"context"
	"strings"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

// Emit сохраняет непрочитанное уведомление для пользователя.
func (s *Service) Emit(ctx context.Context, userID int64, typ model.NotificationType, title, description string) (*model.Notification, error) {
	switch typ {
	case model.NotificationInfo, model.NotificationSuccess, model.NotificationError:
	default:
		return nil, model.Validationf("unknown notification type %q", typ)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, model.Validationf("notification title is required")
	}

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	n := &model.Notification{
		UserID:      userID,
		Type:        typ,
		Title:       title,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	}
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (s *Service) ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, userID)
}

// UnreadCount возвращает число непрочитанных уведомлений.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	list, err := s.repo.ListNotifications(ctx, userID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n, nil
}

// MarkAllRead помечает прочитанными все уведомления пользователя одним пакетом.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkNotificationsRead(ctx, userID)
}
