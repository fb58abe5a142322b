package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gardenia/auth"
	"gardenia/internal/actuator"
	"gardenia/internal/camera"
	"gardenia/internal/config"
	"gardenia/internal/engine"
	"gardenia/internal/history"
	"gardenia/internal/mqtt"
	"gardenia/internal/scheduler"
	"gardenia/internal/store"
	"gardenia/internal/taskqueue"
	"gardenia/internal/telemetry"
	"gardenia/internal/web"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var kv store.KV
	var pg *store.PG
	if cfg.Simulated {
		log.Println("MAIN: running in simulated mode, state is in-memory only")
		kv = store.NewMemory()
	} else {
		pg, err = store.NewPG(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer pg.Close()
		kv = pg
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	bridge, err := mqtt.NewBridge(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT: %v", err)
	}
	defer bridge.Close()

	hist := history.New(kv)
	netatmo := telemetry.NewClient(kv, hist, bridge)
	tapo := actuator.NewClient(kv, hist)

	var backend actuator.Backend
	var deferrer actuator.Deferrer
	var queue *taskqueue.Queue
	if cfg.Simulated {
		backend = actuator.NewSimulatedBackend(kv)
	} else {
		backend = actuator.NewForwardingBackend(kv)
		queue = taskqueue.NewQueue(cfg.RedisAddr)
		defer queue.Close()
		deferrer = queue
	}

	plugs := actuator.NewController(kv, backend, deferrer, bridge)
	cam := camera.New(kv, hist, cfg.PictureDir)
	executor := engine.NewExecutor(kv, hist, plugs, cam)
	evaluator := engine.NewEvaluator(kv, executor)

	var worker *taskqueue.Worker
	if !cfg.Simulated {
		worker = taskqueue.NewWorker(cfg.RedisAddr, plugs)
		if err := worker.Start(); err != nil {
			log.Fatalf("Failed to start task worker: %v", err)
		}
	}

	sched := scheduler.New(kv, netatmo, evaluator, plugs, tapo, cam)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	shutdown := func() { sigChan <- syscall.SIGTERM }

	authModule := auth.NewAuthModule(kv, redisClient, hist, cfg.JWTSecret)
	webServer := web.NewWebServer(kv, authModule, hist, netatmo, tapo, plugs, cam, executor, sched, shutdown)
	go func() {
		if err := webServer.Start(cfg.ListenAddr); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
	}()

	<-sigChan

	sched.Stop()
	if worker != nil {
		worker.Stop()
	}
	log.Println("Shutdown complete")
}
