package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/eden-portal/eden/internal/domain"
)

func (r *Registry) notification(recipient, msg string, action domain.NotificationAction, payload *domain.NotificationPayload) domain.Notification {
	return domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipient,
		Message:     msg,
		Date:        r.now(),
		ActionType:  action,
		Payload:     payload,
	}
}

// notify appends notes to the notifications slice in one mutation.
func (r *Registry) notify(notes ...domain.Notification) {
	if len(notes) == 0 {
		return
	}
	r.Notifications.Update(func(ns []domain.Notification) []domain.Notification {
		return append(ns, notes...)
	})
}

// MarkNotificationRead flags one notification as read.
func (r *Registry) MarkNotificationRead(id string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("mark_notification_read", "", map[string]string{"notification": id})
	defer func() { done(err) }()

	ns := r.Notifications.Get()
	for i := range ns {
		if ns[i].ID == id {
			ns[i].IsRead = true
			r.Notifications.Set(ns)
			return nil
		}
	}
	return fmt.Errorf("mark read %q: %w", id, domain.ErrNotificationNotFound)
}

// NotificationsFor returns userID's notifications, oldest first.
func (r *Registry) NotificationsFor(userID string, unreadOnly bool) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.Notifications.Get() {
		if n.RecipientID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	return out
}
