package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

// RequestController serves the donation request endpoints.
type RequestController struct {
	lifecycle services.LifecycleService
	queries   services.RequestQueryService
	logger    *zap.Logger
}

func NewRequestController(lifecycle services.LifecycleService, queries services.RequestQueryService, logger *zap.Logger) *RequestController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestController{lifecycle: lifecycle, queries: queries, logger: logger}
}

func listQuery(c *gin.Context) services.ListQuery {
	return services.ListQuery{
		Status:         c.Query("status"),
		RequesterEmail: c.Query("requesterEmail"),
		BloodGroup:     c.Query("bloodGroup"),
		District:       c.Query("district"),
		SubDistrict:    c.Query("subDistrict"),
	}
}

func pageRequest(c *gin.Context) services.PageRequest {
	size := c.Query("size")
	if size == "" {
		size = c.Query("limit")
	}
	return services.ParsePageRequest(c.Query("page"), size, c.Query("sortOrder"))
}

// Create handles POST /requests
func (rc *RequestController) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var body models.CreateDonationRequest
	if err := bindStrict(c, &body); err != nil {
		respondError(c, err)
		return
	}

	req, err := rc.lifecycle.Create(c.Request.Context(), body, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// List handles GET /requests
func (rc *RequestController) List(c *gin.Context) {
	page, err := rc.queries.List(c.Request.Context(), listQuery(c), pageRequest(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListPending handles GET /requests/pending
func (rc *RequestController) ListPending(c *gin.Context) {
	page, err := rc.queries.ListPending(c.Request.Context(), listQuery(c), pageRequest(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListByRequester handles GET /requests/user/:email
func (rc *RequestController) ListByRequester(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	page, err := rc.queries.ListByRequester(c.Request.Context(), c.Param("email"), listQuery(c), pageRequest(c), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /requests/:id
func (rc *RequestController) Get(c *gin.Context) {
	req, err := rc.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// UpdateStatus handles PATCH /requests/update-status/:id
func (rc *RequestController) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var body models.StatusUpdate
	if err := bindStrict(c, &body); err != nil {
		respondError(c, err)
		return
	}
	rc.transition(c, c.Param("id"), body.DonationStatus, actor)
}

// Cancel handles PATCH /requests/:id/cancel
func (rc *RequestController) Cancel(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	rc.transition(c, c.Param("id"), string(models.StatusCanceled), actor)
}

func (rc *RequestController) transition(c *gin.Context, id, status string, actor models.Actor) {
	res, err := rc.lifecycle.Transition(c.Request.Context(), id, status, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.For(c.Request.Context(), rc.logger).Debug("Status request handled",
		zap.String("request_id", id),
		zap.String("status", status),
		zap.Bool("changed", res.Changed),
	)
	c.JSON(http.StatusOK, res)
}

// Update handles PATCH /requests/:id
func (rc *RequestController) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var patch models.RequestPatch
	if err := bindStrict(c, &patch); err != nil {
		respondError(c, err)
		return
	}

	req, err := rc.lifecycle.Update(c.Request.Context(), c.Param("id"), patch, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Delete handles DELETE /requests/:id
func (rc *RequestController) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, apperrors.Newf(apperrors.KindValidation, "force must be a boolean"))
			return
		}
		force = v
	}

	if err := rc.lifecycle.Delete(c.Request.Context(), c.Param("id"), actor, force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "_id": c.Param("id")})
}
