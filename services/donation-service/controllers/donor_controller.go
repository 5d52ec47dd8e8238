package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
)

type DonorController struct {
	donors services.DonorService
}

func NewDonorController(donors services.DonorService) *DonorController {
	return &DonorController{donors: donors}
}

// Search handles GET /donors?bloodGroup=&district=&subDistrict=
func (dc *DonorController) Search(c *gin.Context) {
	donors, err := dc.donors.Search(c.Request.Context(), models.DonorFilter{
		BloodGroup:  c.Query("bloodGroup"),
		District:    c.Query("district"),
		SubDistrict: c.Query("subDistrict"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, donors)
}
