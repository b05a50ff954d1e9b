package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/auth"
	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/metrics"
)

type Delivery interface {
	Send(ctx context.Context, req domain.SendRequest) (*domain.SendResult, error)
	History(ctx context.Context, user, peer string) (*domain.Conversation, error)
	Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error)
}

type Sessions interface {
	Connect(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) ([]domain.PendingEntry, error)
	Heartbeat(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) error
	Focus(ctx context.Context, user string, device domain.DeviceClass, peer string) ([]string, error)
	Acknowledge(ctx context.Context, user string, device domain.DeviceClass, ids []string) error
	Disconnect(ctx context.Context, user string, device domain.DeviceClass) error
}

type TokenValidator interface {
	Validate(token string) (*auth.Identity, error)
}

type Deps struct {
	Delivery Delivery
	Sessions Sessions
	Auth     TokenValidator
	Metrics  *metrics.Metrics
	Limiter  *RateLimiter
	Log      *zap.Logger
	Service  string
	Version  string
	// RequestTimeout bounds store and bus calls made for one request.
	RequestTimeout time.Duration
}

func NewServer(d Deps) *fiber.App {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 5 * time.Second
	}
	app := fiber.New(fiber.Config{
		AppName:               d.Service,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(logger.New())

	h := &Handlers{
		delivery: d.Delivery,
		sessions: d.Sessions,
		log:      d.Log.Named("api"),
		service:  d.Service,
		version:  d.Version,
		timeout:  d.RequestTimeout,
	}

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })
	app.Get("/health/simple", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	v1 := app.Group("/v1", RequireAuth(d.Auth))

	chat := v1.Group("/chat")
	chat.Post("/message", d.Limiter.Middleware(), h.sendMessage)
	chat.Get("/conversations", h.listConversations)
	chat.Get("/conversations/:peer/messages", h.history)
	chat.Post("/ack", h.acknowledge)

	pres := v1.Group("/presence")
	pres.Post("/connect", h.connect)
	pres.Post("/heartbeat", h.heartbeat)
	pres.Post("/focus", h.focus)
	pres.Post("/disconnect", h.disconnect)

	return app
}
