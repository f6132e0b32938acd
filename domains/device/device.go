package device

import (
	"context"
	"time"
)

type Status string

const (
	StatusRegistered   Status = "registered"
	StatusRunning      Status = "running"
	StatusActive       Status = "active"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusWaitingQR    Status = "waiting_qr"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// Device is one registered tenant: one phone number, one worker process.
type Device struct {
	ID                  uint       `json:"-"`
	Hash                string     `json:"deviceHash"`
	PhoneNumber         string     `json:"phoneNumber"`
	Name                string     `json:"name,omitempty"`
	Status              Status     `json:"status"`
	ContainerID         string     `json:"containerId,omitempty"`
	Port                int        `json:"port,omitempty"`
	WebhookURL          string     `json:"webhookUrl,omitempty"`
	WebhookSecret       string     `json:"-"`
	StatusWebhookURL    string     `json:"statusWebhookUrl,omitempty"`
	StatusWebhookSecret string     `json:"-"`
	RetryCount          int        `json:"retryCount"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	LastSeen            *time.Time `json:"lastSeen,omitempty"`
}

// RegisterRequest is the payload for POST /api/devices.
type RegisterRequest struct {
	PhoneNumber         string `json:"phoneNumber" form:"phoneNumber"`
	Name                string `json:"name,omitempty" form:"name"`
	WebhookURL          string `json:"webhookUrl,omitempty" form:"webhookUrl"`
	WebhookSecret       string `json:"webhookSecret,omitempty" form:"webhookSecret"`
	StatusWebhookURL    string `json:"statusWebhookUrl,omitempty" form:"statusWebhookUrl"`
	StatusWebhookSecret string `json:"statusWebhookSecret,omitempty" form:"statusWebhookSecret"`
}

// UpdateRequest is the payload for PUT /api/devices. Nil means "leave as is".
type UpdateRequest struct {
	Name                *string `json:"name,omitempty"`
	WebhookURL          *string `json:"webhookUrl,omitempty"`
	WebhookSecret       *string `json:"webhookSecret,omitempty"`
	StatusWebhookURL    *string `json:"statusWebhookUrl,omitempty"`
	StatusWebhookSecret *string `json:"statusWebhookSecret,omitempty"`
}

// UpdateFields is the whitelisted partial update the store accepts. Anything
// outside this set cannot be mutated after registration.
type UpdateFields struct {
	Name                *string
	Status              *Status
	ContainerID         *string
	Port                *int
	WebhookURL          *string
	WebhookSecret       *string
	StatusWebhookURL    *string
	StatusWebhookSecret *string
	LastSeen            *time.Time
}

// ListFilter paginates GET /api/devices. Ordered by createdAt descending.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Stats counts devices per status bucket.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[Status]int64 `json:"byStatus"`
}

// ContainerEvent is a lifecycle event emitted by a worker process.
type ContainerEvent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// IDeviceStore is the persistence boundary for devices.
type IDeviceStore interface {
	Insert(ctx context.Context, dev Device) (Device, error)
	FindByHash(ctx context.Context, hash string) (*Device, error)
	FindByPhone(ctx context.Context, phone string) (*Device, error)
	List(ctx context.Context, filter ListFilter) ([]Device, error)
	Update(ctx context.Context, hash string, fields UpdateFields) (*Device, error)
	Delete(ctx context.Context, hash string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

// IDeviceUsecase is the device lifecycle service consumed by the REST layer.
type IDeviceUsecase interface {
	Register(ctx context.Context, request RegisterRequest) (Device, error)
	List(ctx context.Context, filter ListFilter) ([]Device, error)
	Info(ctx context.Context, hash string) (Device, error)
	Update(ctx context.Context, hash string, request UpdateRequest) (Device, error)
	Remove(ctx context.Context, hash string, force bool) error
	Start(ctx context.Context, hash string) (Device, error)
	Stop(ctx context.Context, hash string) (Device, error)
	Restart(ctx context.Context, hash string) (Device, error)
	Stats(ctx context.Context) (Stats, error)
}
