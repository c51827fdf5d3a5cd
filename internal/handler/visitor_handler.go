package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"visitortracker/internal/model"
	"visitortracker/internal/service"
)

type VisitorService interface {
	RecordVisit(ctx context.Context, ip, userAgent string) (*model.VisitResult, error)
	GetLocations(ctx context.Context) (*model.LocationsResponse, error)
}

type IPResolver interface {
	Resolve(ctx context.Context, ip string) string
}

type Handler struct {
	service          VisitorService
	resolver         IPResolver
	settings         *model.SiteSettings
	excludedPrefixes []string
	logger           *zap.Logger
}

func NewHandler(
	service VisitorService,
	resolver IPResolver,
	settings *model.SiteSettings,
	excludedPrefixes []string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		service:          service,
		resolver:         resolver,
		settings:         settings,
		excludedPrefixes: excludedPrefixes,
		logger:           logger,
	}
}

func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/health", h.HealthCheck)
	app.Get("/api/visitor-data/", h.VisitorData)
	app.Post("/api/register-visitor/", h.RegisterVisitor)
	app.All("/api/register-visitor/", h.MethodNotAllowed)
}

// TrackVisits records the caller on every page view and always continues
// down the chain, whatever happens to the tracking attempt.
func (h *Handler) TrackVisits(c *fiber.Ctx) error {
	if h.isExcluded(c.Path()) || !h.trackingEnabled() {
		return c.Next()
	}

	ip := h.clientIP(c)
	if _, err := h.service.RecordVisit(c.Context(), ip, userAgent(c)); err != nil {
		h.logger.Warn("visitor tracking failed",
			zap.String("ip", ip),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	return c.Next()
}

func (h *Handler) RegisterVisitor(c *fiber.Ctx) error {
	if !h.trackingEnabled() {
		return c.JSON(model.RegisterResponse{Status: "disabled"})
	}

	ip := h.clientIP(c)
	result, err := h.service.RecordVisit(c.Context(), ip, userAgent(c))
	if err != nil {
		h.logger.Error("visitor registration failed",
			zap.String("ip", ip),
			zap.Error(err))
		return c.JSON(model.RegisterResponse{Status: "error"})
	}

	return c.JSON(model.RegisterResponse{
		Status:     "success",
		Created:    result.Created,
		VisitCount: result.Visitor.VisitCount,
		Location:   result.Visitor.LocationLabel(),
	})
}

func (h *Handler) VisitorData(c *fiber.Ctx) error {
	resp, err := h.service.GetLocations(c.Context())
	if err != nil {
		h.logger.Error("visitor aggregation failed", zap.Error(err))
		resp = &model.LocationsResponse{Locations: []model.LocationGroup{}}
	}

	return c.JSON(resp)
}

func (h *Handler) MethodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return c.Status(fiber.StatusMethodNotAllowed).JSON(model.Error{
		Message: "Method not allowed",
	})
}

func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}

// isExcluded matches each prefix, and also the bare path without its
// trailing slash ("/api" for "/api/").
func (h *Handler) isExcluded(path string) bool {
	return lo.SomeBy(h.excludedPrefixes, func(prefix string) bool {
		bare := strings.TrimSuffix(prefix, "/")
		return strings.HasPrefix(path, prefix) || (bare != "" && path == bare)
	})
}

func userAgent(c *fiber.Ctx) string {
	return utils.CopyString(c.Get(fiber.HeaderUserAgent))
}

func (h *Handler) trackingEnabled() bool {
	return h.settings == nil || h.settings.TrackingEnabled
}

func (h *Handler) clientIP(c *fiber.Ctx) string {
	// Header values alias fasthttp's request buffer, which is reused once
	// the handler returns.
	ip := service.ClientIP(
		utils.CopyString(c.Get(fiber.HeaderXForwardedFor)),
		c.Context().RemoteAddr().String(),
	)

	if h.resolver != nil && (h.settings == nil || h.settings.PublicIPFallback) {
		ip = h.resolver.Resolve(c.Context(), ip)
	}
	return ip
}
