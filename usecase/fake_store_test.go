package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// fakeStore is an in-memory device.IDeviceStore for usecase tests.
type fakeStore struct {
	mu         sync.Mutex
	devices    map[string]device.Device
	lastFilter device.ListFilter
}

func newFakeStore(devs ...device.Device) *fakeStore {
	s := &fakeStore{devices: make(map[string]device.Device)}
	for _, d := range devs {
		s.devices[strings.ToLower(d.Hash)] = d
	}
	return s
}

func (s *fakeStore) Insert(_ context.Context, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.devices {
		if existing.PhoneNumber == dev.PhoneNumber {
			return device.Device{}, pkgError.AlreadyExistsError("instance already exists for this phone number")
		}
	}
	dev.Hash = strings.ToLower(dev.Hash)
	dev.CreatedAt = time.Now().UTC()
	dev.UpdatedAt = dev.CreatedAt
	s.devices[dev.Hash] = dev
	return dev, nil
}

func (s *fakeStore) FindByHash(_ context.Context, hash string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[strings.ToLower(hash)]; ok {
		return &dev, nil
	}
	return nil, nil
}

func (s *fakeStore) FindByPhone(_ context.Context, phone string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dev := range s.devices {
		if dev.PhoneNumber == phone {
			d := dev
			return &d, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) List(_ context.Context, filter device.ListFilter) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	out := make([]device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		if filter.Status != "" && dev.Status != filter.Status {
			continue
		}
		out = append(out, dev)
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, hash string, fields device.UpdateFields) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash = strings.ToLower(hash)
	dev, ok := s.devices[hash]
	if !ok {
		return nil, pkgError.InstanceNotFoundError("device not found: " + hash)
	}
	if fields.Name != nil {
		dev.Name = *fields.Name
	}
	if fields.Status != nil {
		dev.Status = *fields.Status
	}
	if fields.ContainerID != nil {
		dev.ContainerID = *fields.ContainerID
	}
	if fields.Port != nil {
		dev.Port = *fields.Port
	}
	if fields.WebhookURL != nil {
		dev.WebhookURL = *fields.WebhookURL
	}
	if fields.WebhookSecret != nil {
		dev.WebhookSecret = *fields.WebhookSecret
	}
	if fields.StatusWebhookURL != nil {
		dev.StatusWebhookURL = *fields.StatusWebhookURL
	}
	if fields.StatusWebhookSecret != nil {
		dev.StatusWebhookSecret = *fields.StatusWebhookSecret
	}
	if fields.LastSeen != nil {
		dev.LastSeen = fields.LastSeen
	}
	dev.UpdatedAt = time.Now().UTC()
	s.devices[hash] = dev
	return &dev, nil
}

func (s *fakeStore) Delete(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash = strings.ToLower(hash)
	if _, ok := s.devices[hash]; !ok {
		return false, nil
	}
	delete(s.devices, hash)
	return true, nil
}

func (s *fakeStore) Stats(_ context.Context) (device.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := device.Stats{ByStatus: make(map[device.Status]int64)}
	for _, dev := range s.devices {
		stats.ByStatus[dev.Status]++
		stats.Total++
	}
	return stats, nil
}
