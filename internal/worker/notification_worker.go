package worker

import (
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/service"
)

// StartNotificationWorker registers the event subscribers: notifications
// first, then the history recorder.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, history *service.HistoryRecorder) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if history != nil {
		history.RegisterHandlers(dispatcher)
	}
}
