package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"buildhook/internal"
	"buildhook/internal/dispatch"
	"buildhook/internal/jobs"
	"buildhook/internal/lifecycle"
	"buildhook/internal/notify"
	"buildhook/internal/store"
	"buildhook/pkg/gitlabapi"
	"buildhook/pkg/jenkins"
	"buildhook/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	filters, err := internal.NewFilterEngine(config.Filters, config.FiltersStrict, logger)
	if err != nil {
		logger.Fatalf("compile filters: %v", err)
	}

	notifier, err := notify.New(config.Notifier)
	if err != nil {
		logger.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	client, err := jenkins.NewClient(config.Jenkins)
	if err != nil {
		logger.Fatalf("jenkins client: %v", err)
	}

	var audit lifecycle.Audit
	if config.Storage.DSN != "" {
		auditStore, err := store.Open(config.Storage)
		if err != nil {
			logger.Fatalf("audit store: %v", err)
		}
		defer auditStore.Close()
		if active, err := auditStore.ListActive(context.Background()); err != nil {
			logger.Printf("audit store: listing active clones: %v", err)
		} else {
			logger.Printf("audit store tracks %d active branch clones", len(active))
		}
		audit = auditStore
	}

	var resolver webhook.Resolver
	if config.GitLab.Token != "" {
		gitlabClient, err := gitlabapi.NewClient(config.GitLab)
		if err != nil {
			logger.Fatalf("gitlab client: %v", err)
		}
		resolver = func(ctx context.Context, id int64) (string, string, error) {
			project, err := gitlabClient.Project(ctx, id)
			if err != nil {
				return "", "", err
			}
			return project.Name, project.SSHURL, nil
		}
	}

	registry := jobs.NewRegistry(client, client, config.Hooks, logger)
	dispatcher := dispatch.NewDispatcher(client, config.Hooks, logger)
	lc := lifecycle.New(registry, client, dispatcher, config.Hooks, audit, logger)

	glHandler, err := webhook.NewGitLabHandler(
		config.Server.GitLabSecret,
		filters,
		lc,
		notifier,
		resolver,
		logger,
	)
	if err != nil {
		logger.Fatalf("gitlab handler: %v", err)
	}
	triggers := webhook.NewTriggerHandler(registry, dispatcher, lc, notifier, logger)

	mux := http.NewServeMux()
	mux.Handle(config.Server.GitLabPath, http.MaxBytesHandler(glHandler, config.Server.MaxBodyBytes))
	mux.HandleFunc(config.Server.NotifyPath, triggers.NotifyCommit)
	mux.HandleFunc(config.Server.BuildPath, triggers.BuildNow)
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	var handler http.Handler = mux
	if config.Server.RateLimitRPS > 0 {
		handler = internal.NewRateLimitHandler(handler, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
