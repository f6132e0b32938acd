package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// --- Persistence Model ---

type deviceModel struct {
	ID                  uint           `gorm:"primaryKey;column:id"`
	Hash                string         `gorm:"column:hash;uniqueIndex;size:16;not null"`
	PhoneNumber         string         `gorm:"column:phone_number;uniqueIndex;not null"`
	Name                sql.NullString `gorm:"column:name"`
	Status              string         `gorm:"column:status;not null;index"`
	ContainerID         sql.NullString `gorm:"column:container_id"`
	ContainerPort       sql.NullInt64  `gorm:"column:container_port"`
	WebhookURL          sql.NullString `gorm:"column:webhook_url"`
	WebhookSecret       sql.NullString `gorm:"column:webhook_secret"`
	StatusWebhookURL    sql.NullString `gorm:"column:status_webhook_url"`
	StatusWebhookSecret sql.NullString `gorm:"column:status_webhook_secret"`
	RetryCount          int            `gorm:"column:retry_count;default:0"`
	CreatedAt           time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;not null"`
	LastSeen            *time.Time     `gorm:"column:last_seen"`
}

func (deviceModel) TableName() string { return "instances" }

// --- Store Implementation ---

// DeviceGormStore persists devices and keeps a read-through cache keyed by
// hash. The cache is only mutated under the store's own operations, so every
// hit reflects the last committed write on this host.
type DeviceGormStore struct {
	db      *gorm.DB
	cacheMu sync.RWMutex
	cache   map[string]device.Device
}

func NewDeviceGormStore(db *gorm.DB) *DeviceGormStore {
	return &DeviceGormStore{
		db:    db,
		cache: make(map[string]device.Device),
	}
}

func (s *DeviceGormStore) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&deviceModel{})
}

func (s *DeviceGormStore) Insert(ctx context.Context, dev device.Device) (device.Device, error) {
	model := toDeviceModel(dev)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return device.Device{}, pkgError.AlreadyExistsError("instance already exists for this phone number")
		}
		return device.Device{}, err
	}

	out := fromDeviceModel(model)
	s.cachePut(out)
	return out, nil
}

// FindByHash answers from the in-memory cache when it can; only a miss
// reaches the database, and the row read rehydrates the cache.
func (s *DeviceGormStore) FindByHash(ctx context.Context, hash string) (*device.Device, error) {
	hash = strings.ToLower(hash)
	if dev := s.CacheGet(hash); dev != nil {
		return dev, nil
	}

	var m deviceModel
	err := s.db.WithContext(ctx).First(&m, "hash = ?", hash).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := fromDeviceModel(m)
	s.cachePut(out)
	return &out, nil
}

func (s *DeviceGormStore) FindByPhone(ctx context.Context, phone string) (*device.Device, error) {
	var m deviceModel
	err := s.db.WithContext(ctx).First(&m, "phone_number = ?", phone).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := fromDeviceModel(m)
	s.cachePut(out)
	return &out, nil
}

// List returns devices ordered by creation time, newest first. A filter limit
// of zero or less means unbounded; the REST layer caps public requests.
func (s *DeviceGormStore) List(ctx context.Context, filter device.ListFilter) ([]device.Device, error) {
	q := s.db.WithContext(ctx).Model(&deviceModel{}).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []deviceModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	res := make([]device.Device, len(models))
	for i, m := range models {
		res[i] = fromDeviceModel(m)
	}
	return res, nil
}

func (s *DeviceGormStore) Update(ctx context.Context, hash string, fields device.UpdateFields) (*device.Device, error) {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if fields.Name != nil {
		updates["name"] = toNullString(*fields.Name)
	}
	if fields.Status != nil {
		updates["status"] = string(*fields.Status)
	}
	if fields.ContainerID != nil {
		updates["container_id"] = toNullString(*fields.ContainerID)
	}
	if fields.Port != nil {
		if *fields.Port > 0 {
			updates["container_port"] = sql.NullInt64{Int64: int64(*fields.Port), Valid: true}
		} else {
			updates["container_port"] = sql.NullInt64{}
		}
	}
	if fields.WebhookURL != nil {
		updates["webhook_url"] = toNullString(*fields.WebhookURL)
	}
	if fields.WebhookSecret != nil {
		updates["webhook_secret"] = toNullString(*fields.WebhookSecret)
	}
	if fields.StatusWebhookURL != nil {
		updates["status_webhook_url"] = toNullString(*fields.StatusWebhookURL)
	}
	if fields.StatusWebhookSecret != nil {
		updates["status_webhook_secret"] = toNullString(*fields.StatusWebhookSecret)
	}
	if fields.LastSeen != nil {
		updates["last_seen"] = *fields.LastSeen
	}

	hash = strings.ToLower(hash)
	tx := s.db.WithContext(ctx).Model(&deviceModel{}).Where("hash = ?", hash).Updates(updates)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, pkgError.InstanceNotFoundError("device not found: " + hash)
	}

	s.cacheDrop(hash)
	return s.FindByHash(ctx, hash)
}

func (s *DeviceGormStore) Delete(ctx context.Context, hash string) (bool, error) {
	hash = strings.ToLower(hash)
	tx := s.db.WithContext(ctx).Delete(&deviceModel{}, "hash = ?", hash)
	if tx.Error != nil {
		return false, tx.Error
	}
	s.cacheDrop(hash)
	return tx.RowsAffected > 0, nil
}

func (s *DeviceGormStore) Stats(ctx context.Context) (device.Stats, error) {
	type bucket struct {
		Status string
		Count  int64
	}
	var buckets []bucket
	err := s.db.WithContext(ctx).Model(&deviceModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&buckets).Error
	if err != nil {
		return device.Stats{}, err
	}

	stats := device.Stats{ByStatus: make(map[device.Status]int64)}
	for _, b := range buckets {
		stats.ByStatus[device.Status(b.Status)] = b.Count
		stats.Total += b.Count
	}
	return stats, nil
}

// CacheGet returns the cached view of a device, or nil on miss.
func (s *DeviceGormStore) CacheGet(hash string) *device.Device {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if dev, ok := s.cache[strings.ToLower(hash)]; ok {
		return &dev
	}
	return nil
}

func (s *DeviceGormStore) cachePut(dev device.Device) {
	s.cacheMu.Lock()
	s.cache[dev.Hash] = dev
	s.cacheMu.Unlock()
}

func (s *DeviceGormStore) cacheDrop(hash string) {
	s.cacheMu.Lock()
	delete(s.cache, hash)
	s.cacheMu.Unlock()
}

// --- Mapping ---

func toDeviceModel(dev device.Device) deviceModel {
	return deviceModel{
		ID:                  dev.ID,
		Hash:                strings.ToLower(dev.Hash),
		PhoneNumber:         dev.PhoneNumber,
		Name:                toNullString(dev.Name),
		Status:              string(dev.Status),
		ContainerID:         toNullString(dev.ContainerID),
		ContainerPort:       toNullInt64(dev.Port),
		WebhookURL:          toNullString(dev.WebhookURL),
		WebhookSecret:       toNullString(dev.WebhookSecret),
		StatusWebhookURL:    toNullString(dev.StatusWebhookURL),
		StatusWebhookSecret: toNullString(dev.StatusWebhookSecret),
		RetryCount:          dev.RetryCount,
		CreatedAt:           dev.CreatedAt,
		UpdatedAt:           dev.UpdatedAt,
		LastSeen:            dev.LastSeen,
	}
}

func fromDeviceModel(m deviceModel) device.Device {
	return device.Device{
		ID:                  m.ID,
		Hash:                m.Hash,
		PhoneNumber:         m.PhoneNumber,
		Name:                m.Name.String,
		Status:              device.Status(m.Status),
		ContainerID:         m.ContainerID.String,
		Port:                int(m.ContainerPort.Int64),
		WebhookURL:          m.WebhookURL.String,
		WebhookSecret:       m.WebhookSecret.String,
		StatusWebhookURL:    m.StatusWebhookURL.String,
		StatusWebhookSecret: m.StatusWebhookSecret.String,
		RetryCount:          m.RetryCount,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		LastSeen:            m.LastSeen,
	}
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullInt64(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
