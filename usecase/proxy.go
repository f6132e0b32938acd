package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// ProxyResponse is the worker's answer, kept as opaque bytes so relaying
// never re-encodes the body.
type ProxyResponse struct {
	Status int
	Body   []byte
}

// IProxyUsecase forwards API calls to the instance's worker.
type IProxyUsecase interface {
	Forward(ctx context.Context, dev *device.Device, method, path, query string, body []byte) (*ProxyResponse, error)
	InterceptQR(ctx context.Context, hash string, resp *ProxyResponse) *ProxyResponse
}

type proxyService struct {
	cfg    *config.Config
	client *http.Client
}

func NewProxyService(cfg *config.Config) IProxyUsecase {
	return &proxyService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Proxy.Timeout},
	}
}

// Forward sends method+path+query+body to the worker on its bound port with
// the Basic auth header the worker expects. A response from the worker is
// always relayed verbatim, whatever its status; only transport failures are
// translated into gateway errors.
func (s *proxyService) Forward(ctx context.Context, dev *device.Device, method, suffix, query string, body []byte) (*ProxyResponse, error) {
	url := fmt.Sprintf("http://localhost:%d%s", dev.Port, suffix)
	if query != "" {
		url += "?" + query
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, pkgError.ProxyError(fmt.Sprintf("failed to build proxy request: %v", err))
	}
	req.SetBasicAuth(s.cfg.App.DefaultAdminUser, s.cfg.App.DefaultAdminPass)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(dev.Hash, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgError.ProxyError(fmt.Sprintf("failed to read worker response: %v", err))
	}

	return &ProxyResponse{Status: resp.StatusCode, Body: respBody}, nil
}

func classifyTransportError(hash string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pkgError.ContainerUnreachableError("worker for " + hash + " timed out")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return pkgError.ContainerUnreachableError("worker for " + hash + " refused connection")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgError.ContainerUnreachableError("worker for " + hash + " timed out")
	}

	return pkgError.ProxyError(fmt.Sprintf("proxy to %s failed: %v", hash, err))
}

// InterceptQR rewrites a login response whose qr_link points into the
// worker's static file tree. The worker writes the PNG asynchronously after
// answering, hence the short delay before the read. Any failure leaves the
// response untouched; the original status code is always preserved.
func (s *proxyService) InterceptQR(ctx context.Context, hash string, resp *ProxyResponse) *ProxyResponse {
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return resp
	}

	results, ok := payload["results"].(map[string]any)
	if !ok {
		return resp
	}
	qrLink, ok := results["qr_link"].(string)
	if !ok || !strings.Contains(qrLink, "/statics/") {
		return resp
	}

	select {
	case <-time.After(s.cfg.Proxy.QRReadDelay):
	case <-ctx.Done():
		return resp
	}

	filename := path.Base(qrLink)
	qrPath := filepath.Join(s.cfg.SessionPath(hash), "statics", "qrcode", filename)
	data, err := os.ReadFile(qrPath)
	if err != nil {
		logrus.Debugf("[PROXY] QR file not readable for %s: %v", hash, err)
		return resp
	}

	results["qr_code"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	delete(results, "qr_link")

	rewritten, err := json.Marshal(payload)
	if err != nil {
		return resp
	}
	return &ProxyResponse{Status: resp.Status, Body: rewritten}
}
