package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/api"
	"github.com/ricochet1k/officemesh/internal/config"
	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/engine/sim"
	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/service"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

type app struct {
	host    *service.Host
	handler *api.Handler
	router  http.Handler
	log     *zap.Logger

	// release frees engine resources shared across sessions.
	release func(context.Context) error
}

func newApp(cfg config.Config, log *zap.Logger) (*app, error) {
	boot, release, err := newBootstrapper(cfg.Engine, log)
	if err != nil {
		return nil, err
	}

	tmpl, err := sessionTemplate(cfg, log)
	if err != nil {
		_ = release(context.Background())
		return nil, err
	}

	var archive *storage.Archive
	if dir := cfg.ArchiveDir(); dir != "" {
		archive, err = storage.NewArchive(dir)
		if err != nil {
			_ = release(context.Background())
			return nil, err
		}
	}

	host := service.NewHost(service.Config{
		Bootstrapper:     boot,
		Session:          tmpl,
		Archive:          archive,
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.Breaker.Cooldown,
		Logger:           log,
	})
	handler := api.NewHandler(host, api.Options{
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Logger:         log,
	})

	return &app{
		host:    host,
		handler: handler,
		router:  routes(handler, cfg.API),
		log:     log,
		release: release,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.host.Shutdown(ctx); err != nil {
		a.log.Warn("host shutdown", zap.Error(err))
	}
	a.handler.Close()
	if err := a.release(ctx); err != nil {
		a.log.Warn("release engine", zap.Error(err))
	}
}

func newBootstrapper(cfg config.EngineConfig, log *zap.Logger) (engine.Bootstrapper, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Kind {
	case config.EngineSim:
		return sim.NewBootstrapper(sim.Options{
			FontDir: cfg.FontDir,
			Fonts:   cfg.Fonts,
			Logger:  log,
		}), noop, nil
	case config.EngineRemote:
		return engine.NewRemote(), noop, nil
	case config.EngineWasm:
		codec, ok := protocol.CodecByName(cfg.Codec)
		if !ok {
			return nil, nil, fmt.Errorf("unknown engine codec %q", cfg.Codec)
		}
		b := engine.NewWasmBootstrapper(engine.WasmConfig{
			ModulePath:       cfg.Module,
			Args:             cfg.Args,
			MemoryLimitPages: cfg.MemoryLimitPages,
			WorkDir:          cfg.WorkDir,
			Codec:            codec,
		})
		return b, b.Close, nil
	case config.EngineProcess:
		codec, ok := protocol.CodecByName(cfg.Codec)
		if !ok {
			return nil, nil, fmt.Errorf("unknown engine codec %q", cfg.Codec)
		}
		return engine.NewProcessBootstrapper(engine.ProcessConfig{
			Command:     cfg.Command,
			Args:        cfg.Args,
			Environment: cfg.Env,
			WorkDir:     cfg.WorkDir,
			Codec:       codec,
		}), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

func sessionTemplate(cfg config.Config, log *zap.Logger) (session.Config, error) {
	table := actions.Writer()
	if path := cfg.Session.ActionsFile; path != "" {
		t, err := actions.LoadYAMLFile(path)
		if err != nil {
			return session.Config{}, fmt.Errorf("load actions: %w", err)
		}
		table = t
	}

	resolver := &resource.Resolver{Logger: log}
	if dir := cfg.Storage.CacheDir; dir != "" {
		cache, err := resource.NewDirCache(dir)
		if err != nil {
			return session.Config{}, fmt.Errorf("resource cache: %w", err)
		}
		resolver.Cache = cache
	}

	return session.Config{
		Actions:             table,
		AcceptedFileTypes:   cfg.Session.AcceptedFileTypes,
		DocumentName:        cfg.Session.DocumentName,
		ReadOnly:            cfg.Session.ReadOnly,
		ViewerToggleCommand: cfg.Session.ViewerToggleCommand,
		Resources:           cfg.Session.Resources,
		Resolver:            resolver,
		SettleDelay:         cfg.Session.SettleDelay,
		ResizeDelay:         cfg.Session.ResizeDelay,
		OpTimeout:           cfg.Session.OpTimeout,
		Logger:              log,
	}, nil
}
