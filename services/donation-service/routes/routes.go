package routes

import (
	"github.com/gin-gonic/gin"

	commonmw "github.com/mamun007molla/blood-donation-server/services/common/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/controllers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

// Controllers groups the HTTP handlers of the service.
type Controllers struct {
	Requests *controllers.RequestController
	Payments *controllers.PaymentController
	Donors   *controllers.DonorController
}

// Options tune route-level middleware.
type Options struct {
	// PaymentRatePerMinute and PaymentBurst limit payment routes per client
	// IP. Zero disables the limit.
	PaymentRatePerMinute int
	PaymentBurst         int
}

// RegisterRoutes mounts every donation-service route on r. auth must resolve
// the caller (see middleware.Authenticate).
func RegisterRoutes(r *gin.Engine, ctl Controllers, auth gin.HandlerFunc, opts Options) {
	staff := middleware.RequireRole(models.RoleAdmin, models.RoleVolunteer)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	// Public
	r.GET("/requests/pending", ctl.Requests.ListPending)
	r.GET("/requests/:id", ctl.Requests.Get)
	r.GET("/donors", ctl.Donors.Search)

	requests := r.Group("/requests", auth)
	requests.POST("", ctl.Requests.Create)
	requests.GET("", staff, ctl.Requests.List)
	requests.GET("/user/:email", ctl.Requests.ListByRequester)
	requests.PATCH("/update-status/:id", ctl.Requests.UpdateStatus)
	requests.PATCH("/:id/cancel", ctl.Requests.Cancel)
	requests.PATCH("/:id", ctl.Requests.Update)
	requests.DELETE("/:id", adminOnly, ctl.Requests.Delete)

	payments := r.Group("", auth)
	if opts.PaymentRatePerMinute > 0 {
		payments.Use(commonmw.RateLimitMiddleware(opts.PaymentRatePerMinute, opts.PaymentBurst, commonmw.ActorOrIPKey))
	}
	payments.POST("/create-payment-checkout", ctl.Payments.CreateCheckout)
	payments.GET("/payment-success", ctl.Payments.ConfirmPayment)
	payments.POST("/payment-success", ctl.Payments.ConfirmPayment)

	// Stripe signature instead of user auth
	r.POST("/stripe/webhook", ctl.Payments.StripeWebhook)
}
