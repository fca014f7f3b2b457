package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dentalink/clinic-portal/internal/middleware"
	"github.com/dentalink/clinic-portal/internal/session"
)

type Router struct {
	handler  *Handler
	registry *session.Registry

	requestTimeout time.Duration
	allowedOrigin  string
}

func NewRouter(handler *Handler, registry *session.Registry, requestTimeout time.Duration, allowedOrigin string) *Router {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &Router{
		handler:        handler,
		registry:       registry,
		requestTimeout: requestTimeout,
		allowedOrigin:  allowedOrigin,
	}
}

func (r *Router) SetupRouter(logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Apply global middleware
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.SecurityHeadersMiddleware(),
		middleware.RecoveryMiddleware(logger),
		middleware.LoggerMiddleware(logger),
		middleware.RateLimitMiddleware(rate.Every(time.Second), 30), // 30 requests per second
		middleware.CORSMiddleware(r.allowedOrigin),
		middleware.TimeoutMiddleware(r.requestTimeout),
	)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", r.handler.Login)
			auth.POST("/logout", r.registry.Require(), r.handler.Logout)
		}

		// Activity trail is for administrators only
		auditLogs := api.Group("/audit")
		auditLogs.Use(r.registry.Require(session.RoleAdmin))
		{
			auditLogs.GET("", r.handler.GetAuditLogs)
		}

		// Clinical routes: the patient roster and charts are for clinic
		// staff only
		clinical := api.Group("")
		clinical.Use(r.registry.Require(session.RoleOdontologo, session.RoleAdmin))
		{
			patients := clinical.Group("/patients")
			{
				patients.GET("", r.handler.ListPatients)
				patients.POST("", r.handler.CreatePatient)

				chart := patients.Group("/:id/chart")
				{
					chart.POST("/open", r.handler.OpenChart)
					chart.GET("", r.handler.GetChart)
					chart.PUT("/details", r.handler.UpdateDetails)
					chart.POST("/save", r.handler.SaveChart)
					chart.POST("/panel", r.handler.SetPanel)

					chart.POST("/odontogram/tool", r.handler.SetTool)
					chart.POST("/odontogram/toggle", r.handler.ToggleTooth)
					chart.POST("/odontogram/clear", r.handler.ClearOdontogram)

					chart.POST("/plan", r.handler.AddPlanItem)
					chart.POST("/plan/:itemId/edit", r.handler.StartEditPlanItem)
					chart.POST("/plan/cancel-edit", r.handler.CancelEditPlanItem)
					chart.DELETE("/plan/:itemId", r.handler.RemovePlanItem)

					chart.GET("/history/draft", r.handler.NewHistoryDraft)
					chart.POST("/history", r.handler.UpsertHistory)
					chart.POST("/history/filter", r.handler.SetHistoryFilter)

					chart.POST("/payments", r.handler.AddPayment)
					chart.POST("/payments/:index/edit", r.handler.StartEditPayment)
					chart.POST("/payments/cancel-edit", r.handler.CancelEditPayment)
					chart.PUT("/payments/:index", r.handler.EditPayment)
					chart.DELETE("/payments/:index", r.handler.DeletePayment)
					chart.GET("/payments/:index/invoice", r.handler.PaymentInvoice)
				}
			}
		}
	}

	// NoRoute handler for 404
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"message": "API endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})

	return router
}
