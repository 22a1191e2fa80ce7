package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/cache"
	"github.com/fathima-sithara/messaging-service/internal/media"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/middleware"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/utils"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// PresenceReader answers the presence endpoint.
type PresenceReader interface {
	Get(ctx context.Context, username string) (cache.PresenceInfo, error)
}

type Deps struct {
	Log             *zap.SugaredLogger
	Validator       *auth.JWTValidator
	Hub             *ws.Hub
	Router          *ws.Router
	Messenger       *service.Messenger
	Unread          *service.UnreadNotifier
	Limiter         *middleware.IPRateLimiter
	Presence        PresenceReader
	Media           *media.Service
	EventsPerSecond int
	MaxUploadBytes  int64
	AllowedOrigins  string
}

func NewServer(d Deps) *fiber.App {
	bodyLimit := 4 * 1024 * 1024
	if d.MaxUploadBytes > 0 {
		bodyLimit = int(d.MaxUploadBytes) + 1024*1024
	}
	app := fiber.New(fiber.Config{
		AppName:               "messaging-service",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return utils.JSONError(c, code, err.Error())
		},
	})
	if d.Presence == nil {
		d.Presence = hubPresence{hub: d.Hub}
	}
	origins := d.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	h := &handler{d: d}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(d.Log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Get("/health", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	authMW := auth.Middleware(d.Validator, d.Log)
	app.Get("/api/messages", authMW, ws.UpgradeRequired, ws.Handler(d.Hub, d.Router, d.EventsPerSecond))

	rest := app.Group("/api/messages", d.Limiter.Handler(), authMW)
	rest.Get("/unread", h.unread)
	rest.Get("/chats", h.chats)
	rest.Get("/presence/:username", h.presence)
	rest.Post("/attachments", h.uploadAttachment)
	rest.Get("/attachments/url", h.attachmentURL)

	return app
}

// hubPresence answers from this instance's connections when Redis is off.
type hubPresence struct {
	hub *ws.Hub
}

func (p hubPresence) Get(_ context.Context, username string) (cache.PresenceInfo, error) {
	return cache.PresenceInfo{Username: username, Online: p.hub.Online(username)}, nil
}
