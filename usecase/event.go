package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/infrastructure/webhook"
)

// Event codes the worker emits on its lifecycle channel.
const (
	EventLoginSuccess   = "LOGIN_SUCCESS"
	EventListDevices    = "LIST_DEVICES"
	EventAuthFailure    = "AUTH_FAILURE"
	EventContainerStart = "CONTAINER_START"
	EventContainerStop  = "CONTAINER_STOP"
)

// statusWebhookEnvelope is the wire format posted to statusWebhookUrl.
type statusWebhookEnvelope struct {
	Device    webhookDevice `json:"device"`
	Event     webhookEvent  `json:"event"`
	Timestamp string        `json:"timestamp"`
}

type webhookDevice struct {
	DeviceHash string `json:"deviceHash"`
	Status     string `json:"status"`
}

type webhookEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// IEventUsecase ingests worker lifecycle events.
type IEventUsecase interface {
	Handle(ctx context.Context, hash string, event device.ContainerEvent) (device.Status, error)
}

type eventService struct {
	store      device.IDeviceStore
	dispatcher *webhook.Dispatcher
}

func NewEventService(store device.IDeviceStore, dispatcher *webhook.Dispatcher) IEventUsecase {
	return &eventService{store: store, dispatcher: dispatcher}
}

// MapEvent translates a container event into its webhook event type and the
// resulting instance status. An empty status means "leave unchanged".
func MapEvent(event device.ContainerEvent) (eventType string, status device.Status) {
	switch event.Code {
	case EventLoginSuccess:
		return "login_success", device.StatusConnected
	case EventListDevices:
		if resultNonEmpty(event.Result) {
			return "connected", device.StatusConnected
		}
		return "disconnected", device.StatusDisconnected
	case EventAuthFailure:
		return "auth_failed", device.StatusError
	case EventContainerStart:
		return "container_event", device.StatusRunning
	case EventContainerStop:
		return "container_event", device.StatusStopped
	default:
		return "container_event", ""
	}
}

func resultNonEmpty(result any) bool {
	switch v := result.(type) {
	case nil:
		return false
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case string:
		return v != ""
	default:
		return true
	}
}

// Handle computes the new status, persists it, and dispatches the status
// webhook in the background. Webhook failures are retried and then
// swallowed; they never reach the worker that reported the event.
func (s *eventService) Handle(ctx context.Context, hash string, event device.ContainerEvent) (device.Status, error) {
	dev, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	if dev == nil {
		return "", deviceNotFound(hash)
	}

	eventType, newStatus := MapEvent(event)

	effective := dev.Status
	if newStatus != "" {
		now := time.Now().UTC()
		updated, err := s.store.Update(ctx, hash, device.UpdateFields{
			Status:   &newStatus,
			LastSeen: &now,
		})
		if err != nil {
			return "", err
		}
		effective = updated.Status
		logrus.Infof("[EVENT] Instance %s: %s -> %s (%s)", hash, dev.Status, effective, event.Code)
	}

	if dev.StatusWebhookURL != "" {
		envelope := statusWebhookEnvelope{
			Device: webhookDevice{
				DeviceHash: dev.Hash,
				Status:     string(effective),
			},
			Event: webhookEvent{
				Type:    eventType,
				Code:    event.Code,
				Message: event.Message,
				Result:  event.Result,
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		url := dev.StatusWebhookURL
		secret := dev.StatusWebhookSecret
		go func() {
			if err := s.dispatcher.Submit(context.Background(), url, secret, envelope); err != nil {
				logrus.WithError(err).Errorf("[EVENT] Status webhook for %s discarded", hash)
			}
		}()
	}

	return effective, nil
}
