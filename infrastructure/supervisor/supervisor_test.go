package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// memStore is the minimal IDeviceStore the supervisor needs in tests.
type memStore struct {
	mu      sync.Mutex
	devices map[string]device.Device
}

func newMemStore(devs ...device.Device) *memStore {
	s := &memStore{devices: make(map[string]device.Device)}
	for _, d := range devs {
		s.devices[d.Hash] = d
	}
	return s
}

func (s *memStore) Insert(_ context.Context, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[dev.Hash] = dev
	return dev, nil
}

func (s *memStore) FindByHash(_ context.Context, hash string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[strings.ToLower(hash)]; ok {
		return &dev, nil
	}
	return nil, nil
}

func (s *memStore) FindByPhone(_ context.Context, phone string) (*device.Device, error) {
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

func (s *memStore) List(_ context.Context, _ device.ListFilter) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, dev)
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, hash string, fields device.UpdateFields) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[strings.ToLower(hash)]
	if !ok {
		return nil, pkgError.InstanceNotFoundError("device not found: " + hash)
	}
	if fields.Status != nil {
		dev.Status = *fields.Status
	}
	if fields.ContainerID != nil {
		dev.ContainerID = *fields.ContainerID
	}
	if fields.LastSeen != nil {
		dev.LastSeen = fields.LastSeen
	}
	s.devices[dev.Hash] = dev
	return &dev, nil
}

func (s *memStore) Delete(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[hash]; !ok {
		return false, nil
	}
	delete(s.devices, hash)
	return true, nil
}

func (s *memStore) Stats(_ context.Context) (device.Stats, error) {
	return device.Stats{}, nil
}

func (s *memStore) status(hash string) device.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[hash].Status
}

// fakeWorker writes a shell script that idles until signalled, standing in
// for the worker binary.
func fakeWorker(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker")
	script := "#!/bin/sh\nwhile true; do sleep 1; done\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func supervisorTestConfig(t *testing.T, binPath string) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{
			DefaultAdminUser: "admin",
			DefaultAdminPass: "admin",
			OS:               "Chrome",
		},
		Paths: config.PathsConfig{
			SessionsDir: t.TempDir(),
			BinPath:     binPath,
		},
		Supervisor: config.SupervisorConfig{
			HealthCheckInterval: 50 * time.Millisecond,
			StopTimeout:         3 * time.Second,
			PortBase:            8000,
			PortMax:             10,
			MirrorConnectDelay:  time.Minute, // never fires in tests
		},
	}
}

const testHash = "0123456789abcdef"

func TestStartSpawnsWorker(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)
	ctx := context.Background()
	defer sup.StopAll(ctx)

	require.NoError(t, sup.Start(ctx, testHash))

	assert.True(t, sup.IsRunning(testHash))
	assert.Equal(t, device.StatusActive, store.status(testHash))

	dev, _ := store.FindByHash(ctx, testHash)
	pid, err := strconv.Atoi(dev.ContainerID)
	require.NoError(t, err, "containerId holds the pid")
	assert.True(t, pidAlive(pid))

	procs := sup.ListAll()
	require.Len(t, procs, 1)
	assert.Equal(t, 8000, procs[0].Port)
}

func TestStartTwiceFails(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)
	ctx := context.Background()
	defer sup.StopAll(ctx)

	require.NoError(t, sup.Start(ctx, testHash))

	err := sup.Start(ctx, testHash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	genericErr, ok := err.(pkgError.GenericError)
	require.True(t, ok)
	assert.Equal(t, 400, genericErr.StatusCode())

	assert.Len(t, sup.ListAll(), 1, "only one child process is tracked")
}

func TestStartUnknownDevice(t *testing.T) {
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), newMemStore())

	err := sup.Start(context.Background(), "ffffffffffffffff")
	require.Error(t, err)

	genericErr, ok := err.(pkgError.GenericError)
	require.True(t, ok)
	assert.Equal(t, "DEVICE_NOT_FOUND", genericErr.ErrCode())
}

func TestStartWithoutPort(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)

	err := sup.Start(context.Background(), testHash)
	require.Error(t, err)

	genericErr, ok := err.(pkgError.GenericError)
	require.True(t, ok)
	assert.Equal(t, "CONTAINER_ERROR", genericErr.ErrCode())
}

func TestStartBadBinaryMarksError(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, "/nonexistent/worker"), store)

	err := sup.Start(context.Background(), testHash)
	require.Error(t, err)
	assert.Equal(t, device.StatusError, store.status(testHash))
}

func TestStopTerminatesWorker(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx, testHash))
	dev, _ := store.FindByHash(ctx, testHash)
	pid, _ := strconv.Atoi(dev.ContainerID)

	require.NoError(t, sup.Stop(ctx, testHash, 0))

	assert.False(t, sup.IsRunning(testHash))
	assert.Equal(t, device.StatusStopped, store.status(testHash))
	assert.Eventually(t, func() bool { return !pidAlive(pid) }, 3*time.Second, 50*time.Millisecond)

	// Stopping again is a no-op that keeps the status consistent.
	require.NoError(t, sup.Stop(ctx, testHash, 0))
	assert.Equal(t, device.StatusStopped, store.status(testHash))
}

func TestRestart(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)
	ctx := context.Background()
	defer sup.StopAll(ctx)

	require.NoError(t, sup.Start(ctx, testHash))
	firstPID := sup.ListAll()[0].PID

	require.NoError(t, sup.Restart(ctx, testHash))

	require.Len(t, sup.ListAll(), 1)
	assert.NotEqual(t, firstPID, sup.ListAll()[0].PID)
	assert.Equal(t, device.StatusActive, store.status(testHash))
}

func TestHealthLoopDetectsDeadWorker(t *testing.T) {
	store := newMemStore(device.Device{Hash: testHash, PhoneNumber: "100", Status: device.StatusRegistered, Port: 8000})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx, testHash))
	pid := sup.ListAll()[0].PID

	sup.StartHealthLoop(ctx)
	defer sup.StopHealthLoop()

	// Kill out-of-band; the health loop must notice.
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		return store.status(testHash) == device.StatusError && !sup.IsRunning(testHash)
	}, 3*time.Second, 25*time.Millisecond)

	assert.Empty(t, sup.ListAll(), "dead worker handle is cleared")
}

func TestRecoverAllAdoptsLivePid(t *testing.T) {
	// A process we own stands in for a worker that survived a gateway restart.
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	store := newMemStore(device.Device{
		Hash:        testHash,
		PhoneNumber: "100",
		Status:      device.StatusActive,
		Port:        8000,
		ContainerID: strconv.Itoa(cmd.Process.Pid),
	})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)

	sup.RecoverAll(context.Background())

	assert.True(t, sup.IsRunning(testHash))
	require.Len(t, sup.ListAll(), 1)
	assert.Equal(t, cmd.Process.Pid, sup.ListAll()[0].PID)
}

func TestRecoverAllRestartsFromSessionFiles(t *testing.T) {
	cfg := supervisorTestConfig(t, fakeWorker(t))
	store := newMemStore(device.Device{
		Hash:        testHash,
		PhoneNumber: "100",
		Status:      device.StatusActive,
		Port:        8000,
		ContainerID: "999999", // long gone
	})
	sup := NewSupervisor(cfg, store)
	ctx := context.Background()
	defer sup.StopAll(ctx)

	sessionDir := cfg.SessionPath(testHash)
	require.NoError(t, os.MkdirAll(sessionDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "whatsapp.db"), []byte("x"), 0644))

	sup.RecoverAll(ctx)

	assert.True(t, sup.IsRunning(testHash))
	assert.Equal(t, device.StatusActive, store.status(testHash))
}

func TestRecoverAllMarksColdInstancesStopped(t *testing.T) {
	store := newMemStore(device.Device{
		Hash:        testHash,
		PhoneNumber: "100",
		Status:      device.StatusActive,
		Port:        8000,
		ContainerID: "999999",
	})
	sup := NewSupervisor(supervisorTestConfig(t, fakeWorker(t)), store)

	sup.RecoverAll(context.Background())

	assert.False(t, sup.IsRunning(testHash))
	assert.Equal(t, device.StatusStopped, store.status(testHash))

	dev, _ := store.FindByHash(context.Background(), testHash)
	assert.Empty(t, dev.ContainerID, "stale pid is cleared")
}
