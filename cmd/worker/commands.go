package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rebrick/rebrick/internal/config"
	"github.com/rebrick/rebrick/internal/handler"
	"github.com/rebrick/rebrick/internal/middleware"
	"github.com/rebrick/rebrick/internal/model"
	"github.com/rebrick/rebrick/internal/server"
	"github.com/rebrick/rebrick/internal/service"
)

type command func(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"serve":    runServe,
	"analyze":  runAnalyze,
	"rebuild":  runRebuild,
	"preview":  runPreview,
	"deploy":   runDeploy,
	"rollback": runRollback,
	"history":  runHistory,
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger.Info("starting rebrick worker",
		"version", version,
		"env", cfg.AppEnv,
		"ops_port", cfg.OpsPort,
		"event_sink", cfg.EventSink,
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	worker, err := a.newWorker()
	if err != nil {
		a.close()
		return err
	}

	srv := server.New(a.router(), cfg.OpsPort, cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout, logger)
	srv.OnShutdown("connections", func(context.Context) error {
		a.close()
		return nil
	})
	srv.Background("deploy-worker", worker.Run)
	if cfg.EventLogActive() {
		srv.Background("event-log", a.newEventLog(worker).Run)
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}

// router builds the ops surface: health, readiness and metrics.
func (a *app) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Recoverer(a.logger))

	checks := []handler.Check{
		{Name: "postgres", Checker: a.repo},
		{Name: "postgres_jobs", Checker: a.jobs},
		{Name: "redis", Checker: a.cache},
	}
	if a.publisher != nil {
		checks = append(checks, handler.Check{Name: "wordpress", Checker: a.publisher, Optional: true})
	}
	if a.nats != nil {
		checks = append(checks, handler.Check{Name: "nats", Checker: natsChecker{a.nats}, Optional: true})
	}
	health := handler.NewHealthHandler(checks...)
	h := handler.New("rebrick-worker", version, a.cfg.AppEnv)

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/", h.Info)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// runAnalyze reads saved HTML files and analyses them as pages of one site.
// Each file maps to a path on the site: index.html is "/", menu.html is "/menu".
func runAnalyze(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	siteURL := fs.String("site", "", "site root url (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *siteURL == "" || fs.NArg() == 0 {
		return errors.New("usage: worker analyze -site <url> <file.html>...")
	}

	docs := make([]service.HTMLDocument, 0, fs.NArg())
	for _, path := range fs.Args() {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, service.HTMLDocument{
			URL:  strings.TrimRight(*siteURL, "/") + pagePath(path),
			Body: body,
		})
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		analysis, err := a.analysis.AnalyzeHTML(ctx, *siteURL, docs)
		if analysis != nil {
			_ = printJSON(analysis)
		}
		return err
	})
}

func runRebuild(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	analysisID := fs.String("analysis", "", "site analysis id (required)")
	templateRef := fs.String("template", "", "template id or name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *analysisID == "" || *templateRef == "" {
		return errors.New("usage: worker rebuild -analysis <id> -template <id|name>")
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		templateID := *templateRef
		if tpl, err := a.repo.GetTemplateByName(ctx, *templateRef); err == nil {
			templateID = tpl.ID
		} else if !errors.Is(err, model.ErrEntityNotFound) {
			return err
		}

		rebuild, err := a.rebuild.Rebuild(ctx, *analysisID, templateID)
		if rebuild != nil {
			_ = printJSON(rebuild)
		}
		return err
	})
}

func runPreview(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	rebuildID := fs.String("rebuild", "", "site rebuild id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls, err := parsePreviewArgs(fs.Args())
	if err != nil {
		return err
	}
	if *rebuildID == "" || len(urls) == 0 {
		return errors.New("usage: worker preview -rebuild <id> <page_type>=<url>...")
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		rebuild, err := a.rebuild.SetPreviewURLs(ctx, *rebuildID, urls)
		if err != nil {
			return err
		}
		return printJSON(rebuild)
	})
}

func runDeploy(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	rebuildID := fs.String("rebuild", "", "site rebuild id (required)")
	siteID := fs.String("site", cfg.WordPressBaseURL, "wordpress site id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rebuildID == "" || *siteID == "" {
		return errors.New("usage: worker deploy -rebuild <id> [-site <wordpress url>]")
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		job, err := a.deployment.Deploy(ctx, *rebuildID, *siteID)
		if err != nil {
			return err
		}
		return printJSON(job)
	})
}

func runRollback(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	jobID := fs.String("job", "", "deployment job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" {
		return errors.New("usage: worker rollback -job <id>")
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		job, err := a.deployment.Rollback(ctx, *jobID)
		if job != nil {
			_ = printJSON(job)
		}
		return err
	})
}

func runHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	aggregateID := fs.String("aggregate", "", "analysis, rebuild or deployment job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *aggregateID == "" {
		return errors.New("usage: worker history -aggregate <id>")
	}

	return withApp(ctx, cfg, logger, func(a *app) error {
		history, err := a.repo.ListAggregateEvents(ctx, *aggregateID)
		if err != nil {
			return err
		}
		return printJSON(history)
	})
}

func withApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// pagePath maps a saved file name to the site path it was fetched from.
func pagePath(file string) string {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if name == "" || name == "index" || name == "home" {
		return "/"
	}
	return "/" + name
}

// parsePreviewArgs parses page_type=url pairs.
func parsePreviewArgs(args []string) (map[model.PageTypeName]string, error) {
	urls := make(map[model.PageTypeName]string, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || raw == "" {
			return nil, fmt.Errorf("preview argument %q must be page_type=url", arg)
		}
		t := model.PageTypeName(strings.ToLower(strings.TrimSpace(name)))
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown page type %q", name)
		}
		urls[t] = raw
	}
	return urls, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type natsChecker struct{ conn natsStatus }

type natsStatus interface {
	IsConnected() bool
}

func (c natsChecker) Ping(context.Context) error {
	if !c.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}
