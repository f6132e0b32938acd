package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/infrastructure/database"
	"github.com/hashfleet/wagateway/infrastructure/ports"
	"github.com/hashfleet/wagateway/infrastructure/store"
	"github.com/hashfleet/wagateway/infrastructure/supervisor"
	"github.com/hashfleet/wagateway/infrastructure/webhook"
	"github.com/hashfleet/wagateway/pkg/sendqueue"
	"github.com/hashfleet/wagateway/pkg/utils"
	"github.com/hashfleet/wagateway/ui/rest"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
	"github.com/hashfleet/wagateway/ui/websocket"
	"github.com/hashfleet/wagateway/usecase"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the gateway HTTP API",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[REST] Invalid configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreateFolder(cfg.Paths.SessionsDir); err != nil {
		logrus.Fatalf("[REST] Failed to prepare sessions dir: %v", err)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[REST] Failed to open database: %v", err)
	}

	ctx := context.Background()

	deviceStore := store.NewDeviceGormStore(db)
	if err := deviceStore.Init(ctx); err != nil {
		logrus.Fatalf("[REST] Failed to migrate schema: %v", err)
	}

	allocator := ports.NewAllocator(cfg.Supervisor.PortBase, cfg.Supervisor.PortMax)
	if err := seedAllocator(ctx, deviceStore, allocator); err != nil {
		logrus.Fatalf("[REST] Failed to seed port allocator: %v", err)
	}

	queues := sendqueue.NewManager(sendqueue.ManagerConfig{
		Interval:      cfg.Queue.Interval,
		JobTimeout:    cfg.Queue.JobTimeout,
		MaxIdleTime:   cfg.Queue.MaxIdleTime,
		SweepInterval: cfg.Queue.SweepInterval,
	})

	sup := supervisor.NewSupervisor(cfg, deviceStore)
	dispatcher := webhook.NewDispatcher(cfg)

	deviceUsecase := usecase.NewDeviceService(cfg, deviceStore, allocator, sup, queues)
	proxyUsecase := usecase.NewProxyService(cfg)
	eventUsecase := usecase.NewEventService(deviceStore, dispatcher)

	app := fiber.New(fiber.Config{
		AppName:      "WhatsApp Gateway",
		Network:      "tcp",
		ErrorHandler: middleware.ErrorHandler,
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Instance-Id, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.App.RateLimitMax,
		Expiration: cfg.App.RateLimitWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	app.Use("/api", basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.App.DefaultAdminUser: cfg.App.DefaultAdminPass,
		},
		Next: func(c *fiber.Ctx) bool {
			// Allow CORS preflight without credentials.
			return c.Method() == fiber.MethodOptions
		},
	}))

	// Gateway-local routes first; the proxy wildcard would otherwise swallow
	// /api/app/version.
	rest.InitRestHealth(app, sup)
	rest.InitRestApp(app, cfg)
	rest.InitRestDevice(app, deviceUsecase, deviceStore)
	rest.InitRestQueue(app, queues, deviceStore)
	rest.InitRestEvent(app, eventUsecase, deviceStore)
	rest.InitRestProxy(app, proxyUsecase, queues, deviceStore)

	websocket.RegisterRoutes(app)
	go websocket.RunHub()

	app.All("/api/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API endpoint not found",
			"path":  c.Path(),
		})
	})

	sup.RecoverAll(ctx)
	sup.StartHealthLoop(ctx)

	// The signal handler only drains the listener. Worker teardown happens
	// below, after Listen returns, so the process cannot exit mid-StopAll.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Errorf("[REST] Server stopped: %v", err)
	}

	stopSubsystems(sup, queues)
	logrus.Info("[REST] Shutdown complete")
}

// stopSubsystems tears the background machinery down synchronously: health
// loop first so nobody fights over worker state, then the send queues, then
// every child process, bounded by a global grace period.
func stopSubsystems(sup *supervisor.Supervisor, queues *sendqueue.Manager) {
	sup.StopHealthLoop()
	queues.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.StopAll(shutdownCtx)
}

// seedAllocator reserves the ports of every persisted instance so restarts
// never hand out a port that is already bound to a tenant.
func seedAllocator(ctx context.Context, deviceStore *store.DeviceGormStore, allocator *ports.Allocator) error {
	devices, err := deviceStore.List(ctx, device.ListFilter{})
	if err != nil {
		return err
	}

	taken := make([]int, 0, len(devices))
	for _, dev := range devices {
		if dev.Port > 0 {
			taken = append(taken, dev.Port)
		}
	}
	allocator.Seed(taken)
	logrus.Infof("[REST] Seeded allocator with %d reserved ports", len(taken))
	return nil
}
