package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/elearning-calendar-api/api/swagger"
	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/handler"
	internalmiddleware "github.com/noah-isme/elearning-calendar-api/internal/middleware"
	"github.com/noah-isme/elearning-calendar-api/internal/repository"
	"github.com/noah-isme/elearning-calendar-api/internal/service"
	"github.com/noah-isme/elearning-calendar-api/pkg/cache"
	"github.com/noah-isme/elearning-calendar-api/pkg/config"
	"github.com/noah-isme/elearning-calendar-api/pkg/database"
	"github.com/noah-isme/elearning-calendar-api/pkg/export"
	"github.com/noah-isme/elearning-calendar-api/pkg/jobs"
	"github.com/noah-isme/elearning-calendar-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/elearning-calendar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/elearning-calendar-api/pkg/middleware/requestid"
	"github.com/noah-isme/elearning-calendar-api/pkg/storage"
)

// @title E-Learning Calendar API
// @version 1.0.0
// @description Month, week and day calendar views over course assignments and announcements.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	var (
		cacheRepo      service.CacheRepository
		readinessRedis handler.Pinger
		cacheEnabled   = cfg.Cache.Enabled
	)
	if cacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, events cache disabled", zap.Error(err))
			cacheEnabled = false
		} else {
			redisRepo := repository.NewCacheRepository(client, logr)
			cacheRepo = redisRepo
			readinessRedis = redisRepo
			defer redisRepo.Close() //nolint:errcheck
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.EventsTTL, logr, cacheEnabled)

	calendarRepo := repository.NewCalendarRepository(db)
	courseRepo := repository.NewCourseRepository(db)

	tokenSvc := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)
	calendarSvc := service.NewCalendarService(calendarRepo, cacheSvc, metricsSvc, validate, logr, service.CalendarServiceConfig{
		CacheTTL:      cfg.Cache.EventsTTL,
		MaxRangeDays:  cfg.Calendar.MaxRangeDays,
		RangeRowLimit: repository.MaxRangeRows,
	})
	courseSvc := service.NewCourseService(courseRepo, cacheSvc, cfg.Cache.EventsTTL, logr)

	clock := calendar.NewLiveClock(calendar.ClockConfig{
		Interval: cfg.Calendar.ClockInterval,
		Location: cfg.Calendar.Location,
		Logger:   logr,
		OnTick:   metricsSvc.RecordClockTick,
	})
	clock.Start(ctx)
	defer clock.Stop()

	viewSvc := service.NewCalendarViewService(calendarSvc, courseSvc, clock, metricsSvc, logr, service.ViewServiceConfig{
		Location:      cfg.Calendar.Location,
		OverflowLimit: cfg.Calendar.OverflowLimit,
	})

	prefetchQueue := jobs.NewQueue("calendar-prefetch", service.NewPrefetchHandler(calendarSvc, metricsSvc, logr), jobs.QueueConfig{
		Workers:    cfg.Calendar.PrefetchWorkers,
		BufferSize: 64,
		MaxRetries: 1,
		RetryDelay: time.Second,
		Timeout:    10 * time.Second,
		Logger:     logr,
	})
	prefetchQueue.Start(ctx)
	defer prefetchQueue.Stop()

	sessionSvc := service.NewCalendarSessionService(viewSvc, courseSvc, clock, prefetchQueue, metricsSvc, validate, logr, service.SessionConfig{
		TTL: cfg.Calendar.SessionTTL,
	})
	sessionSvc.Start(ctx)
	defer sessionSvc.Stop()

	exportSvc := service.NewExportService(viewSvc, export.NewICSExporter("-//E-Learning//Calendario//ES"), export.NewCSVExporter(','), export.NewPDFExporter(), metricsSvc, logr, service.ExportConfig{
		Reminder: time.Duration(cfg.Feed.ReminderMinutes) * time.Minute,
	})
	feedSvc := service.NewFeedService(storage.NewFeedSigner(cfg.Feed.Secret, cfg.Feed.TTL), exportSvc, validate, logr, service.FeedConfig{
		Enabled: cfg.Feed.Enabled,
		BaseURL: cfg.Feed.BaseURL,
	})

	calendarHandler := handler.NewCalendarHandler(viewSvc, calendarSvc, courseSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc, clock)
	exportHandler := handler.NewExportHandler(exportSvc, feedSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"database": handler.PingFunc(db.PingContext),
		"redis":    readinessRedis,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())
	r.Use(internalmiddleware.Timezone(cfg.Calendar.Location))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/calendar/feed/:token", exportHandler.Feed)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokenSvc))
	{
		cal := secured.Group("/calendar")
		cal.GET("/view", calendarHandler.View)
		cal.GET("/courses", calendarHandler.Courses)
		cal.GET("/export", exportHandler.Export)
		cal.POST("/feed", exportHandler.IssueFeed)
		cal.GET("/metrics", internalmiddleware.RequireEventManager(), metricsHandler.Snapshot)

		events := cal.Group("/events")
		events.GET("/:id", calendarHandler.Detail)
		manage := events.Group("", internalmiddleware.RequireEventManager())
		manage.GET("", calendarHandler.ListEvents)
		manage.POST("", internalmiddleware.Audit(logr, "create", "calendar_event"), calendarHandler.CreateEvent)
		manage.PUT("/:id", internalmiddleware.Audit(logr, "update", "calendar_event"), calendarHandler.UpdateEvent)
		manage.DELETE("/:id", internalmiddleware.Audit(logr, "delete", "calendar_event"), calendarHandler.DeleteEvent)

		sessions := cal.Group("/sessions")
		sessions.POST("", sessionHandler.Mount)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.DELETE("/:id", sessionHandler.Unmount)
		sessions.POST("/:id/navigate", sessionHandler.Navigate)
		sessions.POST("/:id/today", sessionHandler.Today)
		sessions.POST("/:id/goto", sessionHandler.GoTo)
		sessions.PUT("/:id/view", sessionHandler.SetView)
		sessions.PATCH("/:id/filters", sessionHandler.UpdateFilters)
		sessions.PUT("/:id/selection", sessionHandler.Select)
		sessions.DELETE("/:id/selection", sessionHandler.ClearSelection)
		sessions.GET("/:id/now", sessionHandler.Now)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "timezone", cfg.Calendar.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	// Ending the clock first closes the open now-marker streams.
	clock.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
