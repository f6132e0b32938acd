package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/pkg/sendqueue"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
	"github.com/hashfleet/wagateway/usecase"
)

// stubDeviceStore serves fixed devices to the resolver middleware.
type stubDeviceStore struct {
	devices map[string]device.Device
}

func (s *stubDeviceStore) Insert(_ context.Context, dev device.Device) (device.Device, error) {
	return dev, nil
}

func (s *stubDeviceStore) FindByHash(_ context.Context, hash string) (*device.Device, error) {
	if dev, ok := s.devices[strings.ToLower(hash)]; ok {
		return &dev, nil
	}
	return nil, nil
}

func (s *stubDeviceStore) FindByPhone(_ context.Context, _ string) (*device.Device, error) {
	return nil, nil
}

func (s *stubDeviceStore) List(_ context.Context, _ device.ListFilter) ([]device.Device, error) {
	return nil, nil
}

func (s *stubDeviceStore) Update(_ context.Context, _ string, _ device.UpdateFields) (*device.Device, error) {
	return nil, nil
}

func (s *stubDeviceStore) Delete(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *stubDeviceStore) Stats(_ context.Context) (device.Stats, error) {
	return device.Stats{}, nil
}

const proxyTestHash = "0123456789abcdef"

type proxyFixture struct {
	app    *fiber.App
	queues *sendqueue.Manager
	worker *httptest.Server
}

func newProxyFixture(t *testing.T, workerHandler http.HandlerFunc, status device.Status) *proxyFixture {
	t.Helper()

	worker := httptest.NewServer(workerHandler)
	t.Cleanup(worker.Close)

	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(worker.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{DefaultAdminUser: "admin", DefaultAdminPass: "admin"},
		Proxy: config.ProxyConfig{
			Timeout:     2 * time.Second,
			QRReadDelay: 10 * time.Millisecond,
		},
		Paths: config.PathsConfig{SessionsDir: t.TempDir()},
	}

	store := &stubDeviceStore{devices: map[string]device.Device{
		proxyTestHash: {Hash: proxyTestHash, PhoneNumber: "100", Status: status, Port: port},
	}}

	queues := sendqueue.NewManager(sendqueue.ManagerConfig{
		Interval:      20 * time.Millisecond,
		JobTimeout:    2 * time.Second,
		MaxIdleTime:   time.Hour,
		SweepInterval: time.Hour,
	})
	t.Cleanup(queues.Stop)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	InitRestProxy(app, usecase.NewProxyService(cfg), queues, store)

	return &proxyFixture{app: app, queues: queues, worker: worker}
}

func TestProxyRelaysSendThroughQueue(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send/message", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"code":"SUCCESS"}`))
	}, device.StatusActive)

	req := httptest.NewRequest("POST", "/api/send/message", strings.NewReader(`{"phone":"123"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SUCCESS", body["code"])

	status, ok := fx.queues.GetStatus(proxyTestHash)
	require.True(t, ok, "send admission creates the instance queue")
	assert.Equal(t, int64(1), status.CompletedJobs)
}

func TestProxyPacesConcurrentSends(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time

	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":"SUCCESS"}`))
	}, device.StatusActive)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/send/message", strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-instance-id", proxyTestHash)
			resp, err := fx.app.Test(req, 5000)
			assert.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 2)
	gap := stamps[1].Sub(stamps[0])
	if gap < 0 {
		gap = -gap
	}
	assert.GreaterOrEqual(t, gap, 15*time.Millisecond, "second send waits out the interval")
}

func TestProxyNonSendBypassesQueue(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}, device.StatusActive)

	req := httptest.NewRequest("GET", "/api/user/info?phone=1", nil)
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	_, ok := fx.queues.GetStatus(proxyTestHash)
	assert.False(t, ok, "general proxying never touches the send queue")
}

func TestProxyInactiveInstanceRejected(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("worker must not be reached")
	}, device.StatusStopped)

	req := httptest.NewRequest("GET", "/api/user/info", nil)
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestProxyWorkerErrorRelayedVerbatim(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"INVALID_PHONE"}`))
	}, device.StatusActive)

	req := httptest.NewRequest("GET", "/api/user/info", nil)
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)
}

func TestLoginAllowedWhileWaitingQR(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":{"qr_link":"http://elsewhere/qr.png"}}`))
	}, device.StatusWaitingQR)

	req := httptest.NewRequest("GET", "/api/app/login", nil)
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestProxyUnreachableWorker(t *testing.T) {
	fx := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {}, device.StatusActive)
	fx.worker.Close() // nothing listens anymore

	req := httptest.NewRequest("GET", "/api/user/info", nil)
	req.Header.Set("x-instance-id", proxyTestHash)

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}
