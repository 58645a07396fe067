package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamfleet/scheduler/internal/scheduler/adminserver"
	"github.com/streamfleet/scheduler/internal/scheduler/balancer"
	"github.com/streamfleet/scheduler/internal/scheduler/catalog"
	"github.com/streamfleet/scheduler/internal/scheduler/controlloop"
	"github.com/streamfleet/scheduler/internal/scheduler/coordination"
	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/internal/scheduler/election"
	"github.com/streamfleet/scheduler/internal/scheduler/mapper"
	"github.com/streamfleet/scheduler/internal/scheduler/metriccache"
	"github.com/streamfleet/scheduler/pkg/config"
	"github.com/streamfleet/scheduler/pkg/database"
	"github.com/streamfleet/scheduler/pkg/events"
	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/metrics"
	"github.com/streamfleet/scheduler/pkg/resilience"
	"github.com/streamfleet/scheduler/pkg/telemetry"
)

// adminSource adapts the control loop and the shared leadership flag to the
// interface the admin server reads /healthz and /assignment from.
type adminSource struct {
	loop *controlloop.Loop
	flag *election.LeadershipFlag
}

func (a adminSource) CurrentAssignment() domain.WorkerSet { return a.loop.CurrentAssignment() }
func (a adminSource) IsLeader() bool                      { return a.flag.IsLeader() }

func main() {
	cfg, err := config.Load("scheduler")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger.ToLoggerConfig())
	log.Info("starting streamfleet scheduler", "identity", cfg.Scheduler.Identity)

	tel, err := telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}

	sampler, err := metrics.NewProcessSampler(15*time.Second, log)
	if err != nil {
		log.Warn("failed to start process metric sampler", "error", err)
	}

	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("metric cache redis unreachable at startup, balancing will fall back to count-only mode", "error", err)
	}

	eventBus, err := events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig())
	if err != nil {
		log.Fatal("failed to create event bus", "error", err)
	}

	coordClient, err := coordination.New(coordination.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout(),
		SessionTTL:  cfg.Etcd.SessionTTL(),
		RetryPolicy: resilience.DefaultRetryPolicy(),
	}, log)
	if err != nil {
		log.Fatal("failed to connect to coordination store", "error", err)
	}

	deviceCatalog := catalog.New(db, float64(cfg.Scheduler.CatalogRefreshInterval), log)
	metricCache := metriccache.New(redisClient, log)
	deviceMapper := mapper.New(coordClient, cfg.Scheduler.PathPrefix, log)

	leadershipFlag := &election.LeadershipFlag{}

	loop := controlloop.New(deviceCatalog, deviceMapper, metricCache, eventBus, tel, log, controlloop.Config{
		TickInterval:          time.Duration(cfg.Scheduler.TickInterval) * time.Second,
		ForcedRefreshInterval: time.Duration(cfg.Scheduler.ForcedRefreshInterval) * time.Second,
		WorkerDeviation:       schedulerDeviation(cfg.Scheduler.WorkerDeviation),
	})

	var adminSrv *adminserver.Server
	if cfg.Admin.Enabled {
		adminSrv = adminserver.New(adminserver.Config{Host: cfg.Admin.Host, Port: cfg.Admin.Port},
			adminSource{loop: loop, flag: leadershipFlag}, tel, log)
		loop.OnPublish(adminSrv.PublishAssignment)

		go func() {
			if err := adminSrv.Start(); err != nil {
				log.Error("admin server stopped", "error", err)
			}
		}()
	}

	electionDriver := election.New(coordClient, cfg.Scheduler.PathPrefix+"/election", cfg.Scheduler.Identity, eventBus, leadershipFlag, log)

	ctx, cancel := context.WithCancel(context.Background())

	if sampler != nil {
		sampler.Start(ctx)
	}
	if err := deviceCatalog.Start(ctx); err != nil {
		log.Warn("failed to start database monitor", "error", err)
	}

	runErrCh := make(chan error, 1)
	go func() {
		if err := deviceMapper.Start(ctx); err != nil {
			runErrCh <- err
			return
		}
		runErrCh <- electionDriver.Run(ctx, loop.Run)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			log.Error("scheduler exited with error", "error", err)
		}
	}

	cancel()

	if sampler != nil {
		sampler.Stop()
	}
	deviceCatalog.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("admin server shutdown error", "error", err)
		}
	}
	if err := eventBus.Close(); err != nil {
		log.Error("failed to close event bus", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Error("failed to close redis client", "error", err)
	}
	if err := coordClient.Close(); err != nil {
		log.Error("failed to close coordination client", "error", err)
	}
	if err := db.Close(); err != nil {
		log.Error("failed to close database", "error", err)
	}
	if err := tel.Close(); err != nil {
		log.Error("failed to close telemetry", "error", err)
	}

	log.Info("streamfleet scheduler exited")
}

func schedulerDeviation(configured float64) float64 {
	if configured <= 0 {
		return balancer.WorkerDeviation
	}
	return configured
}
