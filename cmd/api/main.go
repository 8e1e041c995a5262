package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microvision.org/internal/config"
	"microvision.org/internal/httpapi"
	"microvision.org/internal/mapping"
	"microvision.org/internal/obs"
	"microvision.org/internal/resolve"
	"microvision.org/internal/session"
	"microvision.org/internal/store/snapshot"
	"microvision.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sess, err := session.OpenFromConfig(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatalf("open database: %v", err)
	}

	var snap *snapshot.Store
	if cfg.SnapshotDB != "" {
		snap, err = snapshot.Open(ctx, cfg.SnapshotDB)
		if err != nil {
			cancel()
			log.Fatalf("open snapshot: %v", err)
		}
		if err := refreshSnapshot(ctx, sess, snap); err != nil {
			fields := map[string]any{"error": err.Error()}
			if at, ok, _ := snap.ImportedAt(ctx); ok {
				fields["imported_at"] = at
			}
			obs.Warn("snapshot not refreshed", fields)
		}
	}
	cancel()

	backend := &httpapi.SessionBackend{Context: sess, Snapshot: snap, Live: cfg.EnableOpenDelivery}
	api := httpapi.New(backend, mapping.Open(cfg.MappingFile), stream.New(), version,
		httpapi.WithNameLimit(cfg.NameLikeLimit),
		httpapi.WithTokenTTL(cfg.TokenTTL),
		httpapi.WithRegistry(resolve.NewRegistry(cfg.PassLimit)),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting microvision-api %s on %s (profile %s, open delivery live=%v)",
		version, srv.Addr, sess.Profile().Label, cfg.EnableOpenDelivery)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = sess.Close()
	if snap != nil {
		_ = snap.Close()
	}
	log.Println("Stopped")
}

func refreshSnapshot(ctx context.Context, sess *session.Context, snap *snapshot.Store) error {
	repo, err := sess.Catalog(ctx)
	if err != nil {
		return err
	}
	_, err = snap.Import(ctx, repo)
	return err
}
