package rest

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainDevice "github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
	"github.com/hashfleet/wagateway/pkg/sendqueue"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
	"github.com/hashfleet/wagateway/usecase"
)

// proxyPrefixes are the worker API namespaces the gateway passes through.
var proxyPrefixes = []string{"app", "send", "user", "message", "chat", "chats", "group", "newsletter"}

type Proxy struct {
	Service usecase.IProxyUsecase
	Queues  *sendqueue.Manager
}

func InitRestProxy(app fiber.Router, service usecase.IProxyUsecase, queues *sendqueue.Manager, store domainDevice.IDeviceStore) Proxy {
	handler := Proxy{Service: service, Queues: queues}

	resolve := middleware.ResolveInstance(store)

	// The login route accepts waiting_qr; everything else requires a usable
	// session. Registration order matters so login wins over the app wildcard.
	app.All("/api/app/login", resolve, middleware.EnsureActiveOrWaitingQR(), handler.Login)
	for _, prefix := range proxyPrefixes {
		app.All("/api/"+prefix+"/*", resolve, middleware.EnsureActive(), handler.Forward)
	}

	return handler
}

// Forward relays the request to the resolved worker. Send endpoints are
// admitted through the per-instance queue so dispatches stay serialized and
// paced; everything else goes straight through.
func (h *Proxy) Forward(c *fiber.Ctx) error {
	dev := middleware.DeviceFromCtx(c)
	suffix := strings.TrimPrefix(c.Path(), "/api")

	resp, err := h.dispatch(c, dev, suffix)
	if err != nil {
		return err
	}

	return relay(c, resp)
}

// Login forwards like any proxy call but hands the worker's response to the
// QR interceptor before relaying it.
func (h *Proxy) Login(c *fiber.Ctx) error {
	dev := middleware.DeviceFromCtx(c)
	suffix := strings.TrimPrefix(c.Path(), "/api")

	resp, err := h.forwardDirect(c, dev, suffix)
	if err != nil {
		return err
	}

	resp = h.Service.InterceptQR(c.UserContext(), dev.Hash, resp)
	return relay(c, resp)
}

func (h *Proxy) dispatch(c *fiber.Ctx, dev *domainDevice.Device, suffix string) (*usecase.ProxyResponse, error) {
	if !strings.HasPrefix(suffix, "/send/") {
		return h.forwardDirect(c, dev, suffix)
	}

	method := c.Method()
	query := string(c.Request().URI().QueryString())
	body := append([]byte(nil), c.Body()...)
	priority := c.QueryInt("priority", sendqueue.DefaultPriority)
	devCopy := *dev

	job := func(ctx context.Context) (any, error) {
		return h.Service.Forward(ctx, &devCopy, method, suffix, query, body)
	}

	var result any
	var err error
	if priority < sendqueue.DefaultPriority {
		result, err = h.Queues.AddHighPriority(c.UserContext(), dev.Hash, priority, job, priority)
	} else {
		result, err = h.Queues.Add(c.UserContext(), dev.Hash, job, priority)
	}
	if err != nil {
		return nil, err
	}

	resp, ok := result.(*usecase.ProxyResponse)
	if !ok {
		logrus.Errorf("[PROXY] Unexpected queue result type for %s", dev.Hash)
		return nil, pkgError.InternalServerError("send queue returned an unexpected result")
	}
	return resp, nil
}

func (h *Proxy) forwardDirect(c *fiber.Ctx, dev *domainDevice.Device, suffix string) (*usecase.ProxyResponse, error) {
	query := string(c.Request().URI().QueryString())
	return h.Service.Forward(c.UserContext(), dev, c.Method(), suffix, query, c.Body())
}

func relay(c *fiber.Ctx, resp *usecase.ProxyResponse) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.Status).Send(resp.Body)
}
