package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yanqian/truthcard/internal/domain/card"
	"github.com/yanqian/truthcard/internal/domain/device"
	"github.com/yanqian/truthcard/internal/domain/payment"
	"github.com/yanqian/truthcard/internal/domain/session"
	"github.com/yanqian/truthcard/internal/domain/usage"
	"github.com/yanqian/truthcard/internal/infra/config"
)

// UsageStatus reports the upload quota without consuming it.
type UsageStatus interface {
	Status(ctx context.Context, deviceID string, tier usage.Tier) (usage.Decision, error)
}

// Handler wires the HTTP transport to domain services.
type Handler struct {
	sessions  *session.Service
	usage     UsageStatus
	devices   device.Service
	payments  *payment.Service
	publicURL string
	maxUpload int64
	cookie    cookieSettings
	logger    *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(cfg *config.Config, sessions *session.Service, usageSvc UsageStatus, devices device.Service, payments *payment.Service, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		usage:     usageSvc,
		devices:   devices,
		payments:  payments,
		publicURL: strings.TrimRight(cfg.HTTP.PublicURL, "/"),
		maxUpload: cfg.HTTP.MaxUploadBytes,
		cookie:    cookieSettings{Name: cfg.Device.CookieName, MaxAge: cfg.Device.TokenTTL},
		logger:    logger.With("component", "http.handler"),
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Device returns the caller's device token, issuing one when needed.
func (h *Handler) Device(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	token := c.Writer.Header().Get(deviceTokenHeader)
	if token == "" {
		// Existing devices get a re-signed token so the expiry slides forward.
		issued, err := h.devices.Upgrade(c.Request.Context(), claims, claims.Tier)
		if err != nil {
			fail(c, err)
			return
		}
		writeDeviceToken(c, h.cookie, issued)
		token, claims = issued.Token, issued.Claims
	}
	c.JSON(http.StatusOK, device.Token{Token: token, Claims: claims})
}

// Usage returns the remaining free uploads for the caller.
func (h *Handler) Usage(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	decision, err := h.usage.Status(c.Request.Context(), claims.DeviceID, claims.Tier)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// CreateSession starts a new session at the onboarding screen.
func (h *Handler) CreateSession(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	snap, err := h.sessions.Create(c.Request.Context(), claims.DeviceID, claims.Tier)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// GetSession returns the latest snapshot.
func (h *Handler) GetSession(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.sessions.Get(c.Request.Context(), id, claims.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type uploadResponse struct {
	Session session.Snapshot `json:"session"`
	Usage   usage.Decision   `json:"usage"`
}

// Upload accepts the screenshot as multipart field "file".
func (h *Handler) Upload(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if h.maxUpload > 0 {
		// room for the multipart envelope
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+64<<10)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, "invalid_input", "file exceeds maximum allowed size", err))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", "file is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "file_read_failure", "failed to read upload", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "file_read_failure", "failed to read upload", err))
		return
	}

	snap, decision, err := h.sessions.Upload(c.Request.Context(), id, claims.DeviceID, claims.Tier, session.UploadInput{
		FileName: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, uploadResponse{Session: snap, Usage: decision})
}

// Restart returns the session to the upload screen.
func (h *Handler) Restart(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.sessions.Restart(c.Request.Context(), id, claims.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PopFlag explodes a red flag.
func (h *Handler) PopFlag(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	flagID, err := strconv.Atoi(c.Param("flagId"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", "flag id must be an integer", err))
		return
	}
	snap, err := h.sessions.PopFlag(c.Request.Context(), id, claims.DeviceID, flagID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DismissSupport hides the support overlay.
func (h *Handler) DismissSupport(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.sessions.DismissSupportPrompt(c.Request.Context(), id, claims.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type tierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// SetTier switches the session tier. Paid tiers require a matching device
// entitlement, which is only granted by a confirmed payment.
func (h *Handler) SetTier(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", errMessage(err), err))
		return
	}
	tier, ok := usage.ParseTier(req.Tier)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", "unknown tier", nil))
		return
	}
	if !entitled(claims.Tier, tier) {
		abortWithError(c, NewHTTPError(http.StatusPaymentRequired, "payment_required", "purchase a plan to unlock this tier", nil))
		return
	}
	snap, err := h.sessions.SetTier(c.Request.Context(), id, claims.DeviceID, tier)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func entitled(have, want usage.Tier) bool {
	switch want {
	case usage.TierFree:
		return true
	case usage.TierPro:
		return have.Paid()
	default:
		return have == want
	}
}

// Card downloads the rendered result card. Any device holding the link may
// fetch it.
func (h *Handler) Card(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	format, err := card.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.sessions.Export(c.Request.Context(), id, format)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+out.FileName+`"`)
	c.Data(http.StatusOK, out.ContentType, out.Data)
}

// Share returns the share text and fallback links.
func (h *Handler) Share(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	base := h.baseURL(c)
	imageURL := base + "/api/v1/sessions/" + id.String() + "/card?format=png"
	payload, err := h.sessions.Share(c.Request.Context(), id, claims.DeviceID, base, imageURL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// Plans lists purchasable plans.
func (h *Handler) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": h.payments.Plans(), "enabled": h.payments.Enabled()})
}

type orderRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// CreateOrder opens a checkout order for the caller's device.
func (h *Handler) CreateOrder(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", errMessage(err), err))
		return
	}
	checkout, err := h.payments.CreateOrder(c.Request.Context(), claims.DeviceID, req.Plan)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkout)
}

type confirmRequest struct {
	payment.ConfirmRequest
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Tier    usage.Tier        `json:"tier"`
	Token   string            `json:"token"`
	Order   payment.Order     `json:"order"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// ConfirmPayment verifies the checkout callback and upgrades the device.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	claims, ok := h.device(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_input", errMessage(err), err))
		return
	}
	conf, err := h.payments.Confirm(c.Request.Context(), claims.DeviceID, req.ConfirmRequest)
	if err != nil {
		fail(c, err)
		return
	}
	token, err := h.devices.Upgrade(c.Request.Context(), claims, conf.Tier)
	if err != nil {
		fail(c, err)
		return
	}
	writeDeviceToken(c, h.cookie, token)

	resp := confirmResponse{Tier: conf.Tier, Token: token.Token, Order: conf.Order}
	if req.SessionID != "" {
		if id, err := uuid.Parse(req.SessionID); err == nil {
			if snap, err := h.sessions.SetTier(c.Request.Context(), id, claims.DeviceID, conf.Tier); err == nil {
				resp.Session = &snap
			} else {
				h.logger.Warn("apply tier to session failed", "session", req.SessionID, "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) device(c *gin.Context) (device.Claims, bool) {
	claims, ok := getDevice(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "invalid_token", "missing device", nil))
		return device.Claims{}, false
	}
	return claims, true
}

func (h *Handler) baseURL(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if isSecure(c) {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "not_found", "session not found", err))
		return uuid.UUID{}, false
	}
	return id, true
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
