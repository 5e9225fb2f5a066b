package server

import (
	"math"
	"net/http"
	"time"

	"NutriPlan/internal/utility"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = utility.TrustedProxyExtractor()
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"https://*", "http://*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:       300,
	}))

	e.Use(LoggerMiddleware)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zerolog.Ctx(c.Request().Context()).Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	// Service info
	e.GET("/health", s.healthHandler)
	e.GET("/status", s.statusHandler)
	e.GET("/form", s.formHandler)

	// Plan generation, rate limited per client
	plan := e.Group("/plan")
	if s.rateLimit > 0 {
		store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.rateLimit),
			Burst:     int(math.Max(1, math.Ceil(s.rateLimit))),
			ExpiresIn: 3 * time.Minute,
		})
		plan.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store:               store,
			IdentifierExtractor: utility.RateLimitIdentifier,
			DenyHandler:         denyPlanRequest,
		}))
	}
	plan.POST("", s.planHandler)
	plan.GET("/stream", s.planStreamHandler)

	// Session history
	e.GET("/history", s.getHistoryHandler)
	e.DELETE("/history", s.resetHistoryHandler)
	e.POST("/history/save", s.saveHistoryHandler)
	e.POST("/history/load", s.loadHistoryHandler)

	return e
}

func denyPlanRequest(c echo.Context, identifier string, err error) error {
	zerolog.Ctx(c.Request().Context()).Warn().Str("client", identifier).Msg("Plan request rate limited")
	return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many plan requests, please slow down"})
}

// LoggerMiddleware tags every request with an id and puts a request-scoped
// logger into the request context, where the pipeline and clients pick it up.
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Response().Header().Set("X-Request-ID", requestID)

		logger := log.With().Str("request_id", requestID).Logger()

		c.Set("logger", &logger)
		c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context())))

		return next(c)
	}
}
