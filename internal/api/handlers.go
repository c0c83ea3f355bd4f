package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"datachat/internal/auth"
	"datachat/internal/logging"
	"datachat/internal/metrics"
	"datachat/internal/service/assistant"
	"datachat/internal/session"
	"datachat/internal/view"
)

const (
	msgDatasetFailed  = "The dataset could not be loaded."
	msgAnalysisFailed = "The analysis request failed. Check your API key and try again."
	msgInternal       = "internal error"
)

// Handler wires HTTP routes to the assistant service and the session manager.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	sessions  *session.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewHandler constructs a Handler instance. metrics may be nil.
func NewHandler(service *assistant.Service, authService *auth.Service, sessions *session.Manager, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		assistant: service,
		auth:      authService,
		sessions:  sessions,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(view.Templates())
	router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	app := router.Group("/")
	app.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	app.GET("/", h.index)
	app.POST("/settings", h.updateSettings)
	app.POST("/chat", h.chat)
	app.POST("/session/reset", h.resetSession)

	api := app.Group("/api")
	api.GET("/dataset", h.getDataset)
	api.GET("/dataset/summary", h.getSummary)
	api.GET("/dataset/correlations", h.getCorrelations)
	api.GET("/transcript", h.getTranscript)
	api.POST("/chat", h.captureInput)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) sessionID(c *gin.Context) (string, bool) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
	return id, ok
}

func (h *Handler) index(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	st, err := h.sessions.Load(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load session failed", "session", id, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgInternal)
		return
	}
	_, page, err := h.assistant.Render(c.Request.Context(), st, assistant.Refresh{})
	if err != nil {
		h.logger.Error("render failed", "session", id, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgDatasetFailed)
		return
	}
	h.renderPage(c, http.StatusOK, page)
}

type settingsForm struct {
	APIKey           string `form:"api_key"`
	ClearAPIKey      bool   `form:"clear_api_key"`
	ShowSummary      bool   `form:"show_summary"`
	ShowCorrelations bool   `form:"show_correlations"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var form settingsForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderError(c, http.StatusBadRequest, "invalid form")
		return
	}
	switch {
	case form.ClearAPIKey:
		_ = h.auth.SetAPIKey(c, "")
	case form.APIKey != "":
		if err := h.auth.SetAPIKey(c, form.APIKey); err != nil {
			h.logger.Error("store api key failed", "error", err)
			h.renderError(c, http.StatusInternalServerError, msgInternal)
			return
		}
	}

	_, err := h.sessions.Update(c.Request.Context(), id, func(ctx context.Context, st *session.State) (*session.State, error) {
		next, _, err := h.assistant.Render(ctx, st, assistant.ToggleSummary{On: form.ShowSummary})
		if err != nil {
			return nil, err
		}
		next, _, err = h.assistant.Render(ctx, next, assistant.ToggleCorrelations{On: form.ShowCorrelations})
		return next, err
	})
	if err != nil {
		h.logger.Error("update settings failed", "session", id, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgDatasetFailed)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) chat(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	ev := assistant.Chat{Question: c.PostForm("question"), APIKey: h.auth.APIKey(c)}

	var page *view.Page
	_, err := h.sessions.Update(c.Request.Context(), id, func(ctx context.Context, st *session.State) (*session.State, error) {
		next, p, err := h.assistant.Render(ctx, st, ev)
		page = p
		return next, err
	})
	switch {
	case err == nil:
		c.Redirect(http.StatusSeeOther, "/")
	case errors.Is(err, assistant.ErrAnalysis) && page != nil:
		page.Error = msgAnalysisFailed
		h.renderPage(c, http.StatusBadGateway, page)
	default:
		h.logger.Error("chat failed", "session", id, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgDatasetFailed)
	}
}

func (h *Handler) resetSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("reset session failed", "session", id, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgInternal)
		return
	}
	h.auth.ResetSession(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) renderPage(c *gin.Context, status int, page *view.Page) {
	page.CSRFToken = auth.CSRFTokenFromContext(c)
	page.Sidebar.HasAPIKey = h.auth.APIKey(c) != ""
	c.HTML(status, "page.html", page)
}

func (h *Handler) renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{"Title": view.Title, "Message": message})
}
