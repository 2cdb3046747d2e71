package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/service"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ContentPath is the single gateway endpoint.
const ContentPath = "/api/save-content"

// Error codes returned alongside the message.
const (
	CodeConflict     = "CONFLICT"
	CodeInvalidShape = "INVALID_SHAPE"
)

const (
	msgConflict      = "Version conflict: the document was changed by someone else. Reload and try again."
	msgSaved         = "Document updated successfully."
	msgFetchFailed   = "Failed to fetch the document from the store."
	msgSaveFailed    = "Failed to save the document."
	msgNotConfigured = "The document store is not configured on the server."
)

// Handler serves the document gateway over gin.
type Handler struct {
	svc       *service.Service
	configErr error
	timeout   time.Duration
	log       *logger.Logger
}

// New returns a handler backed by svc. A positive timeout bounds each store round trip.
func New(svc *service.Service, timeout time.Duration) *Handler {
	return &Handler{svc: svc, timeout: timeout, log: logger.For("gateway/http")}
}

// Unconfigured returns a handler that answers every request with a
// configuration error, so a misconfigured server stays observable.
func Unconfigured(err error) *Handler {
	return &Handler{configErr: err, log: logger.For("gateway/http")}
}

// Register mounts GET and POST on ContentPath. writeGuards run before POST only.
func (h *Handler) Register(r gin.IRoutes, writeGuards ...gin.HandlerFunc) {
	r.GET(ContentPath, h.configured, h.get)
	post := append([]gin.HandlerFunc{h.configured}, writeGuards...)
	r.POST(ContentPath, append(post, h.post)...)
}

func (h *Handler) configured(c *gin.Context) {
	if h.configErr != nil {
		h.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), h.configErr)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": msgNotConfigured, "details": h.configErr.Error()})
		return
	}
	c.Next()
}

func (h *Handler) get(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.svc.Read(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"message": msgFetchFailed, "details": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	if !res.Version.IsZero() {
		c.Header("ETag", `"`+string(res.Version)+`"`)
	}
	c.JSON(http.StatusOK, gin.H{"content": res.Content, "sha": string(res.Version)})
}

type saveRequest struct {
	Content json.RawMessage `json:"content"`
	SHA     *string         `json:"sha,omitempty"`
}

func (h *Handler) post(c *gin.Context) {
	content, expected, ok := h.bind(c)
	if !ok {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.svc.Write(ctx, service.WriteRequest{Content: content, ExpectedVersion: expected})
	switch {
	case errors.Is(err, document.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"message": msgConflict, "error_code": CodeConflict})
	case errors.Is(err, document.ErrShape):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error(), "error_code": CodeInvalidShape})
	case err != nil:
		c.JSON(statusFor(err), gin.H{"message": msgSaveFailed + " " + err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": msgSaved, "data": res})
	}
}

// bind accepts {"content": "<string>", "sha": "<optional version>"}. Anything
// else is rejected with 400 before the store is touched.
func (h *Handler) bind(c *gin.Context) (string, *document.Version, bool) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": document.ErrInvalidContent.Error()})
		return "", nil, false
	}
	raw := bytes.TrimSpace(req.Content)
	var content string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &content) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": document.ErrInvalidContent.Error()})
		return "", nil, false
	}
	if req.SHA == nil {
		return content, nil, true
	}
	v := document.Version(*req.SHA)
	return content, &v, true
}

func (h *Handler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

func statusFor(err error) int {
	if status := document.StatusOf(err); status >= 400 && status <= 599 {
		return status
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
