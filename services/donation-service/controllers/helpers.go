package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const maxBodyBytes = 1 << 20

// bindStrict decodes a JSON body into dst, rejecting unknown fields, then runs
// the binding tags.
func bindStrict(c *gin.Context, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return apperrors.New(apperrors.KindValidation, "Could not read request body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return apperrors.Newf(apperrors.KindValidation, "Request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Newf(apperrors.KindValidation, "Invalid request body: %v", err)
	}
	if dec.More() {
		return apperrors.Newf(apperrors.KindValidation, "Invalid request body: trailing data")
	}
	if binding.Validator == nil {
		return nil
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return apperrors.Newf(apperrors.KindValidation, "Invalid request: %v", err)
	}
	return nil
}

// respondError writes err. Indeterminate outcomes get a retry hint instead of
// an error body.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrIndeterminate) {
		c.JSON(http.StatusAccepted, gin.H{"status": "indeterminate", "retry": true})
		return
	}
	_ = c.Error(err)
	apperrors.Respond(c, err)
}

// requireActor returns the authenticated caller or writes 401.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		apperrors.Respond(c, apperrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}
