package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anvil/internal/api"
	"anvil/internal/archive"
	"anvil/internal/config"
	"anvil/internal/contextstore"
	"anvil/internal/display"
	"anvil/internal/queue"
	"anvil/internal/sandbox"
	"anvil/internal/storage"
	"anvil/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := contextstore.New(cfg.Context.Directory, cfg.Context.MaxEntries, cfg.Context.MaxAge)
	if err != nil {
		log.Fatalf("Failed to open context store: %v", err)
	}
	defer store.Close()

	hist, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		log.Fatalf("Failed to open job archive: %v", err)
	}
	defer hist.Close()

	agent := sandbox.NewAgent(store, display.NewLease(), cfg.Sandbox.CallTimeout)

	hub := websocket.NewHub()
	go hub.Run()

	q, err := queue.New(queue.Options{
		JobsDir:       cfg.Jobs.Directory,
		Workers:       cfg.Jobs.Workers,
		QueueLimit:    cfg.Jobs.QueueLimit,
		MaxTaskBytes:  cfg.Jobs.MaxTaskBytes,
		JobTimeout:    cfg.Jobs.Timeout,
		Retention:     cfg.Jobs.Retention,
		SweepInterval: cfg.Jobs.SweepInterval,
	}, agent, hist, hub)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	q.Start()

	packager := storage.NewPackager(cfg.Jobs.Directory)
	apiServer := api.NewServer(q, packager, store, hist, hub)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Server.Port,
		Handler: apiServer.GetRouter(),
	}

	go func() {
		log.Printf("Starting HTTP server on %s", srv.Addr)
		log.Printf("Schedule endpoint: http://%s/schedule", srv.Addr)
		log.Printf("Event stream: ws://%s/ws", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	q.Close()
}
