package handler

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/internal/dto"
	"github.com/noah-isme/gema-roadmap/internal/middleware"
	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/service"
	"github.com/noah-isme/gema-roadmap/internal/utils"
)

const (
	localRoadmapSession = "roadmap_session"
	wsWriteTimeout      = 10 * time.Second
	wsPingInterval      = 30 * time.Second
)

// RoadmapHandler exposes the roadmap lifecycle of the calling user.
type RoadmapHandler struct {
	sessions  service.RoadmapSessionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoadmapHandler constructs a roadmap handler.
func NewRoadmapHandler(sessions service.RoadmapSessionService, validator *validator.Validate, logger zerolog.Logger) *RoadmapHandler {
	return &RoadmapHandler{
		sessions:  sessions,
		validator: validator,
		logger:    logger.With().Str("component", "roadmap_handler").Logger(),
	}
}

// Register wires roadmap routes.
func (h *RoadmapHandler) Register(router fiber.Router) {
	router.Use("/ws", h.upgrade)
	router.Get("/ws", websocket.New(h.stream))

	router.Get("/", h.snapshot)
	router.Delete("/", h.reset)
	router.Post("/generate", h.startGeneration)
	router.Post("/generate/retry", h.retryGeneration)
	router.Delete("/generate", h.stopGeneration)
	router.Post("/refresh", h.refresh)
	router.Post("/select", h.selectRoadmap)
	router.Post("/courses/regenerate", h.regenerateCourse)
	router.Post("/courses/complete", h.completeCourse)
	router.Get("/progress", h.progress)
	router.Put("/preferences", h.preferences)
}

func (h *RoadmapHandler) session(c *fiber.Ctx) (service.RoadmapService, error) {
	return h.sessions.Session(requestContext(c), middleware.UserID(c), middleware.AccessToken(c))
}

func (h *RoadmapHandler) snapshot(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	return utils.OK(c, svc.Snapshot(), "roadmap retrieved", nil)
}

func (h *RoadmapHandler) startGeneration(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	snap, err := svc.StartGeneration(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to start roadmap generation")
	}
	return utils.Respond(c, fiber.StatusAccepted, snap, "roadmap generation started", nil)
}

func (h *RoadmapHandler) retryGeneration(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	snap, err := svc.RetryGeneration(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to retry roadmap generation")
	}
	return utils.Respond(c, fiber.StatusAccepted, snap, "roadmap generation restarted", nil)
}

func (h *RoadmapHandler) stopGeneration(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	return utils.OK(c, svc.StopGeneration(), "roadmap generation stopped", nil)
}

func (h *RoadmapHandler) refresh(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	snap, err := svc.Refresh(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to refresh roadmap")
	}
	return utils.OK(c, snap, "roadmap refreshed", nil)
}

func (h *RoadmapHandler) selectRoadmap(c *fiber.Ctx) error {
	var req dto.SelectRoadmapRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", nil)
	}
	req.RoadmapID = strings.TrimSpace(req.RoadmapID)
	if err := h.validator.Struct(req); err != nil {
		return respondError(c, h.logger, err, "invalid selection")
	}

	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	result, err := svc.Select(requestContext(c), req.RoadmapID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to select roadmap")
	}
	if result.Ignored {
		return utils.Respond(c, fiber.StatusAccepted, result, "selection already in progress", nil)
	}
	return utils.OK(c, result, "roadmap selected", fiber.Map{"snapshot": svc.Snapshot()})
}

func (h *RoadmapHandler) regenerateCourse(c *fiber.Ctx) error {
	var req dto.RegenerateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", nil)
	}
	req.RoadmapID = strings.TrimSpace(req.RoadmapID)
	if err := h.validator.Struct(req); err != nil {
		return respondError(c, h.logger, err, "invalid regeneration")
	}

	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	result, err := svc.RegenerateCourse(requestContext(c), service.RegenerateCourseCommand{
		RoadmapID: req.RoadmapID,
		Order:     *req.Order,
		Reason:    req.Reason,
	})
	if err != nil {
		return respondError(c, h.logger, err, "failed to regenerate course")
	}
	return utils.OK(c, result, "course regenerated", nil)
}

func (h *RoadmapHandler) completeCourse(c *fiber.Ctx) error {
	var form dto.CompleteCourseForm
	if err := c.BodyParser(&form); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", nil)
	}
	form.RoadmapID = strings.TrimSpace(form.RoadmapID)
	form.CourseID = strings.TrimSpace(form.CourseID)
	if err := h.validator.Struct(form); err != nil {
		return respondError(c, h.logger, err, "invalid completion")
	}

	cmd := service.CompleteCourseCommand{
		RoadmapID: form.RoadmapID,
		CourseID:  form.CourseID,
		Note:      form.Note,
	}

	if multipartForm, err := c.MultipartForm(); err == nil && len(multipartForm.File["evidence"]) > 0 {
		fileHeader := multipartForm.File["evidence"][0]
		file, openErr := fileHeader.Open()
		if openErr != nil {
			requestLogger(h.logger, c).Error().Err(openErr).Msg("failed to open evidence upload")
			return utils.Fail(c, fiber.StatusBadRequest, "failed to read evidence", nil)
		}
		defer file.Close()
		cmd.Evidence = file
		cmd.EvidenceName = fileHeader.Filename
	}

	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	result, err := svc.CompleteCourse(requestContext(c), cmd)
	if err != nil {
		return respondError(c, h.logger, err, "failed to complete course")
	}
	return utils.OK(c, result, "course completed", nil)
}

func (h *RoadmapHandler) progress(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	summary, err := svc.Progress(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to load progress")
	}
	return utils.OK(c, summary, "progress retrieved", nil)
}

func (h *RoadmapHandler) preferences(c *fiber.Ctx) error {
	var req dto.PreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", nil)
	}
	req.View = strings.ToLower(strings.TrimSpace(req.View))
	if err := h.validator.Struct(req); err != nil {
		return respondError(c, h.logger, err, "invalid preference")
	}

	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	snap, err := svc.SetViewPreference(requestContext(c), models.ViewPreference(req.View))
	if err != nil {
		return respondError(c, h.logger, err, "failed to save preference")
	}
	return utils.OK(c, snap, "preference saved", nil)
}

func (h *RoadmapHandler) reset(c *fiber.Ctx) error {
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	if err := svc.Reset(requestContext(c)); err != nil {
		return respondError(c, h.logger, err, "failed to reset roadmap")
	}
	return utils.OK(c, svc.Snapshot(), "roadmap reset", nil)
}

// upgrade resolves the session while the request still carries HTTP locals.
func (h *RoadmapHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	svc, err := h.session(c)
	if err != nil {
		return respondError(c, h.logger, err, "failed to open roadmap session")
	}
	c.Locals(localRoadmapSession, svc)
	return c.Next()
}

func (h *RoadmapHandler) stream(conn *websocket.Conn) {
	svc, ok := conn.Locals(localRoadmapSession).(service.RoadmapService)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		_ = conn.Close()
		return
	}

	userID, _ := conn.Locals(middleware.LocalUserID).(string)
	logger := h.logger.With().Str("user_id", userID).Logger()
	logger.Info().Msg("roadmap stream connected")
	defer logger.Info().Msg("roadmap stream disconnected")

	updates, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, svc.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snap, open := <-updates:
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				logger.Debug().Err(err).Msg("roadmap stream write failed")
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap service.RoadmapSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(snap)
}
