package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelhub/modelhub-api/internal/catalog/service"
	"github.com/modelhub/modelhub-api/internal/store"
	"github.com/modelhub/modelhub-api/pkg/logger"
	"github.com/modelhub/modelhub-api/pkg/middleware"
	"go.mongodb.org/mongo-driver/bson"
)

// Handler serves the model catalog routes.
type Handler struct {
	svc          *service.Service
	auth         gin.HandlerFunc
	enforceOwner bool
}

// New wires the catalog service behind auth, the middleware guarding
// GET /models/:id and GET /my-models.
func New(svc *service.Service, auth gin.HandlerFunc) *Handler {
	return &Handler{svc: svc, auth: auth}
}

// EnforceOwner makes /my-models answer 403 when the email query parameter is
// not the caller's own email claim.
func (h *Handler) EnforceOwner(on bool) *Handler {
	h.enforceOwner = on
	return h
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.Root)

	r.GET("/models", h.ListModels)
	r.GET("/models/:id", h.auth, h.GetModel)
	r.GET("/latest-models", h.LatestModels)
	r.POST("/models", h.CreateModel)
	r.PUT("/models/:id", h.UpdateModel)
	r.DELETE("/models/:id", h.DeleteModel)
	r.GET("/my-models", h.auth, h.MyModels)
	r.GET("/search", h.Search)

	r.POST("/downloads/:id", h.RecordDownload)
	r.GET("/my-downloads", h.MyDownloads)
}

func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Model hub API is running")
}

func (h *Handler) ListModels(c *gin.Context) {
	out, err := h.svc.ListModels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetModel answers 200 with a null body when the model does not exist.
func (h *Handler) GetModel(c *gin.Context) {
	doc, err := h.svc.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) LatestModels(c *gin.Context) {
	out, err := h.svc.LatestModels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateModel(c *gin.Context) {
	body, ok := bindDocument(c)
	if !ok {
		return
	}
	res, err := h.svc.CreateModel(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateModel(c *gin.Context) {
	body, ok := bindDocument(c)
	if !ok {
		return
	}
	res, err := h.svc.UpdateModel(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteModel(c *gin.Context) {
	res, err := h.svc.DeleteModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MyModels filters by the email query parameter, which is trusted as given
// unless owner enforcement is on.
func (h *Handler) MyModels(c *gin.Context) {
	email := c.Query("email")
	if h.enforceOwner {
		claims, _ := middleware.Claims(c)
		if own, _ := claims["email"].(string); own == "" || own != email {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden access"})
			return
		}
	}
	out, err := h.svc.ModelsByCreator(c.Request.Context(), email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Search(c *gin.Context) {
	out, err := h.svc.SearchModels(c.Request.Context(), c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) RecordDownload(c *gin.Context) {
	body, ok := bindDocument(c)
	if !ok {
		return
	}
	res, err := h.svc.RecordDownload(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MyDownloads(c *gin.Context) {
	out, err := h.svc.DownloadsByUser(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// bindDocument decodes the request body into a document. An empty body is an
// empty document; anything that is not a JSON object is a 400.
func bindDocument(c *gin.Context) (bson.M, bool) {
	var body bson.M
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Request body must be a JSON object", "details": err.Error()})
		return nil, false
	}
	if body == nil {
		body = bson.M{}
	}
	return body, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
	case errors.Is(err, service.ErrMissingSearchText):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Search query is required"})
	case errors.Is(err, service.ErrEmptyUpdate):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Update body must contain at least one field"})
	default:
		logger.WithFields(logger.Fields{
			"request_id": middleware.GetRequestID(c),
			"route":      c.FullPath(),
		}).Errorf("store operation failed: %v", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}
