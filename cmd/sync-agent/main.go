package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-class-sync/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-class-sync/internal/middleware"
	"github.com/noah-isme/sma-class-sync/internal/models"
	"github.com/noah-isme/sma-class-sync/internal/repository"
	"github.com/noah-isme/sma-class-sync/internal/service"
	"github.com/noah-isme/sma-class-sync/pkg/cache"
	"github.com/noah-isme/sma-class-sync/pkg/config"
	"github.com/noah-isme/sma-class-sync/pkg/database"
	"github.com/noah-isme/sma-class-sync/pkg/devicecal"
	"github.com/noah-isme/sma-class-sync/pkg/jobs"
	"github.com/noah-isme/sma-class-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-class-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-class-sync/pkg/middleware/requestid"
	"github.com/noah-isme/sma-class-sync/pkg/realtime"
)

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

	scope := models.Scope{UserID: cfg.Agent.UserID, Role: models.UserRole(cfg.Agent.Role)}
	if scope.UserID == "" || !scope.Role.Valid() {
		logr.Fatal("AGENT_USER_ID and a valid AGENT_ROLE are required", zap.String("role", cfg.Agent.Role))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	snapshots := repository.NewCalendarSnapshotRepository(redisClient, logr)
	defer snapshots.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	validate := validator.New()
	schedules := repository.NewScheduleRepository(db)

	queryCache := service.NewQueryCacheService(cfg.QueryCache.RefetchTimeout, metrics, logr)
	service.RegisterScheduleFetchers(queryCache, schedules, scope, cfg.Agent.SessionWindowDays)

	var bridge service.DeviceCalendarBridge
	if b := devicecal.NewHTTPBridge(cfg.Calendar.BridgeURL, cfg.Calendar.WriteTimeout*2); b != nil {
		bridge = b
	} else {
		logr.Info("no calendar bridge configured; calendar sync disabled")
	}
	calendarSync := service.NewCalendarSyncService(bridge, snapshots, service.CalendarSyncConfig{
		UserID:       scope.UserID,
		WriteTimeout: cfg.Calendar.WriteTimeout,
		Window: func() models.DateRange {
			return service.SessionWindow(time.Now(), cfg.Agent.SessionWindowDays)
		},
		Logger:  logr,
		Metrics: metrics,
	})
	if err := calendarSync.Load(ctx); err != nil {
		logr.Warn("starting with empty calendar snapshot", zap.Error(err))
	}

	calendarMiddleware := service.NewCalendarSyncMiddleware(queryCache, calendarSync, scope, logr)
	queryCache.OnChange(calendarMiddleware.OnCacheChange)

	router := service.NewRealtimeRouter(queryCache, metrics, logr)
	events := jobs.NewQueue("realtime-events", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(realtime.Message)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		router.HandleMessage(ctx, msg.Name, msg.Payload, scope.Role)
		return nil
	}, jobs.QueueConfig{
		Workers: cfg.Realtime.Workers,
		Logger:  logr,
		OnDrop: func(job jobs.Job, _ error) {
			metrics.ObserveRealtimeEvent(job.Type, service.RouteDropped)
		},
	})

	source := newRealtimeSource(cfg.Realtime, logr)

	scheduler := jobs.NewScheduler(logr)
	resync := service.NewCalendarResyncService(queryCache, calendarMiddleware, scope.Role, logr)
	if err := scheduler.Register(ctx, "calendar-resync", cfg.Calendar.ResyncCron, func(ctx context.Context) error {
		resync.Run(ctx)
		return nil
	}); err != nil {
		logr.Fatal("invalid resync schedule", zap.Error(err))
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(reqidmiddleware.Middleware())
	engine.Use(logger.GinMiddleware(logr))
	engine.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	engine.Use(internalmiddleware.Metrics(metrics, "/metrics"))

	handler.Register(engine, cfg.APIPrefix, handler.Handlers{
		Metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"postgres": db.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		Modification: handler.NewModificationHandler(service.NewModificationService(schedules, cfg.Modification.DefaultUnitPrice, validate, logr)),
		Display:      handler.NewSessionDisplayHandler(service.NewSessionBoardService(queryCache, schedules, scope, cfg.Agent.SessionWindowDays, validate, logr)),
		Calendar:     handler.NewCalendarSyncHandler(calendarSync, calendarMiddleware, logr),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	events.Start(ctx)
	scheduler.Start()
	for _, resource := range []string{service.ResourceSessions, service.ResourceEnrollments, service.ResourceRefundRequests} {
		queryCache.Invalidate(service.QueryKey(scope.Role, resource))
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return source.Run(gctx, func(msg realtime.Message) {
			if err := events.Enqueue(jobs.Job{Type: msg.Name, Payload: msg}); err != nil {
				logr.Warn("realtime event dropped", zap.String("event", msg.Name), zap.Error(err))
			}
		})
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop()
		events.Stop()
		_ = source.Close()
		queryCache.Wait()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logr.Error("sync agent stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logr.Info("sync agent stopped")
}

func newRealtimeSource(cfg config.RealtimeConfig, logr *zap.Logger) realtime.Source {
	if cfg.Transport == config.TransportAMQP {
		return realtime.NewAMQPSource(cfg.URL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPRoutingKey, logr)
	}
	return realtime.NewWebsocketSource(cfg.URL, cfg.Token, logr)
}
