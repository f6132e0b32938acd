package usecase

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/infrastructure/ports"
	"github.com/hashfleet/wagateway/infrastructure/supervisor"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
	"github.com/hashfleet/wagateway/pkg/sendqueue"
	"github.com/hashfleet/wagateway/pkg/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type deviceService struct {
	cfg        *config.Config
	store      device.IDeviceStore
	allocator  *ports.Allocator
	supervisor *supervisor.Supervisor
	queues     *sendqueue.Manager
}

func NewDeviceService(
	cfg *config.Config,
	store device.IDeviceStore,
	allocator *ports.Allocator,
	sup *supervisor.Supervisor,
	queues *sendqueue.Manager,
) device.IDeviceUsecase {
	return &deviceService{
		cfg:        cfg,
		store:      store,
		allocator:  allocator,
		supervisor: sup,
		queues:     queues,
	}
}

func deviceNotFound(hash string) error {
	return pkgError.InstanceNotFoundError("device not found: " + hash)
}

// Register creates an instance with a fresh hash and an allocated port. The
// port allocation is rolled back when the insert fails, so the allocator
// never leaks on a duplicate phone number.
func (s *deviceService) Register(ctx context.Context, request device.RegisterRequest) (device.Device, error) {
	existing, err := s.store.FindByPhone(ctx, request.PhoneNumber)
	if err != nil {
		return device.Device{}, err
	}
	if existing != nil {
		return device.Device{}, pkgError.AlreadyExistsError(
			"instance already exists for phone number " + request.PhoneNumber)
	}

	hash, err := utils.GenerateInstanceHash()
	if err != nil {
		return device.Device{}, pkgError.InternalServerError(fmt.Sprintf("failed to generate hash: %v", err))
	}

	port, err := s.allocator.Allocate()
	if err != nil {
		return device.Device{}, err
	}

	dev, err := s.store.Insert(ctx, device.Device{
		Hash:                hash,
		PhoneNumber:         request.PhoneNumber,
		Name:                request.Name,
		Status:              device.StatusRegistered,
		Port:                port,
		WebhookURL:          request.WebhookURL,
		WebhookSecret:       request.WebhookSecret,
		StatusWebhookURL:    request.StatusWebhookURL,
		StatusWebhookSecret: request.StatusWebhookSecret,
	})
	if err != nil {
		s.allocator.Release(port)
		return device.Device{}, err
	}

	logrus.Infof("[DEVICE] Registered instance %s (phone=%s port=%d)", dev.Hash, dev.PhoneNumber, dev.Port)
	return dev, nil
}

func (s *deviceService) List(ctx context.Context, filter device.ListFilter) ([]device.Device, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.store.List(ctx, filter)
}

func (s *deviceService) Info(ctx context.Context, hash string) (device.Device, error) {
	dev, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return device.Device{}, err
	}
	if dev == nil {
		return device.Device{}, deviceNotFound(hash)
	}
	return *dev, nil
}

func (s *deviceService) Update(ctx context.Context, hash string, request device.UpdateRequest) (device.Device, error) {
	updated, err := s.store.Update(ctx, hash, device.UpdateFields{
		Name:                request.Name,
		WebhookURL:          request.WebhookURL,
		WebhookSecret:       request.WebhookSecret,
		StatusWebhookURL:    request.StatusWebhookURL,
		StatusWebhookSecret: request.StatusWebhookSecret,
	})
	if err != nil {
		return device.Device{}, err
	}
	return *updated, nil
}

// Remove deletes the instance, its queue, and its port allocation. A running
// worker blocks removal unless force is set, in which case it is stopped
// first.
func (s *deviceService) Remove(ctx context.Context, hash string, force bool) error {
	dev, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	if dev == nil {
		return deviceNotFound(hash)
	}

	if s.supervisor.IsRunning(hash) {
		if !force {
			return pkgError.ValidationError("instance has a running worker; stop it first or pass force=true")
		}
		if err := s.supervisor.Stop(ctx, hash, 0); err != nil {
			return err
		}
	}

	removed, err := s.store.Delete(ctx, hash)
	if err != nil {
		return err
	}
	if !removed {
		return deviceNotFound(hash)
	}

	if dev.Port > 0 {
		s.allocator.Release(dev.Port)
	}
	s.queues.Remove(hash)

	if err := os.RemoveAll(s.cfg.SessionPath(hash)); err != nil {
		logrus.WithError(err).Warnf("[DEVICE] Failed to remove session dir for %s", hash)
	}

	logrus.Infof("[DEVICE] Removed instance %s", hash)
	return nil
}

func (s *deviceService) Start(ctx context.Context, hash string) (device.Device, error) {
	if err := s.supervisor.Start(ctx, hash); err != nil {
		return device.Device{}, err
	}
	return s.Info(ctx, hash)
}

func (s *deviceService) Stop(ctx context.Context, hash string) (device.Device, error) {
	if err := s.supervisor.Stop(ctx, hash, 0); err != nil {
		return device.Device{}, err
	}
	return s.Info(ctx, hash)
}

func (s *deviceService) Restart(ctx context.Context, hash string) (device.Device, error) {
	if err := s.supervisor.Restart(ctx, hash); err != nil {
		return device.Device{}, err
	}
	return s.Info(ctx, hash)
}

func (s *deviceService) Stats(ctx context.Context) (device.Stats, error) {
	return s.store.Stats(ctx)
}
