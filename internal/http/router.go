package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/safevisit/backend/internal/config"
	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/geocode"
	"github.com/safevisit/backend/internal/http/handlers"
	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/session"

	_ "github.com/safevisit/backend/docs"
)

type Deps struct {
	Store    db.Gateway
	Sessions *session.Registry
	Drafts   *session.Drafts
	Geocoder geocode.Geocoder
	Logger   zerolog.Logger
}

func Router(cfg config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader,
			middleware.UserIDHeader, middleware.UserNameHeader, middleware.UserEmailHeader,
		},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(cfg.CORSAllowed, ",")
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:          deps.Store,
		Sessions:       deps.Sessions,
		Drafts:         deps.Drafts,
		Geocoder:       deps.Geocoder,
		Validator:      validator.New(),
		Logger:         deps.Logger,
		Timeout:        cfg.RequestTimeout,
		CountryDefault: cfg.CountryDefault,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	user := api.Group("")
	user.Use(middleware.Identity())
	{
		user.GET("/session", h.GetSession)
		user.POST("/session/restore", h.RestoreSession)
		user.POST("/session/refresh", h.RefreshSession)
		user.POST("/session/reset", h.ResetSession)
		user.POST("/session/logout", h.Logout)
		user.POST("/session/login-as", h.LoginAs)
		user.GET("/session/events", h.SessionEvents)
		user.DELETE("/session/flags/:flag", h.ClearFlag)

		user.POST("/drafts", h.SaveDraft)
		user.GET("/matching", h.Matching)
		user.POST("/requests", h.CreateRequest)
		user.GET("/requests", h.ListRequests)
		user.POST("/requests/:id/accept", h.AcceptRequest)
		user.POST("/requests/:id/reject", h.RejectRequest)
		user.POST("/requests/:id/review", h.ReviewRequest)
		user.GET("/requests/:id/alerts", h.ListAlerts)
		user.POST("/monitoring/start", h.StartMonitoring)
		user.POST("/monitoring/end", h.EndMonitoring)
		user.POST("/emergency", h.TriggerEmergency)

		user.GET("/profile", h.GetProfile)
		user.PUT("/profile", h.UpdateProfile)
		user.GET("/safety-partners", h.ListSafetyPartners)
		user.POST("/safety-partners", h.CreateSafetyPartner)
		user.DELETE("/safety-partners/:id", h.DeleteSafetyPartner)

		user.GET("/technicians", h.ListTechnicians)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.PUT("/roles/:user_id", h.SetUserRole)
		admin.POST("/technicians/import", h.ImportTechnicians)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
