// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/config"
	"github.com/rjlee/actual-landg-pension/internal/history"
	"github.com/rjlee/actual-landg-pension/internal/jobs"
	"github.com/rjlee/actual-landg-pension/internal/ledger"
	"github.com/rjlee/actual-landg-pension/internal/login"
	"github.com/rjlee/actual-landg-pension/internal/mapping"
	"github.com/rjlee/actual-landg-pension/internal/portal"
	"github.com/rjlee/actual-landg-pension/internal/reconcile"
)

// App holds the long-lived services of one process.
type App struct {
	Config      *config.Config
	Coordinator *login.Coordinator
	Gateway     ledger.Gateway
	Store       mapping.Store
	Observer    *portal.Observer
	Engine      *reconcile.Engine
	Runner      *jobs.Runner
	Credentials portal.Credentials
	Recorder    history.Recorder
	// History is nil unless a readable sink is configured.
	History history.Reader

	closers []io.Closer
}

// New builds the services from cfg. Optional sinks that fail to start are
// logged and left out.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.RequireLedger(); err != nil {
		return nil, err
	}

	gw, err := ledger.NewHTTPGateway(ledger.HTTPConfig{
		BaseURL:            cfg.Actual.ServerURL,
		APIKey:             cfg.Actual.APIKey,
		SyncID:             cfg.Actual.SyncID,
		EncryptionPassword: cfg.Actual.EncryptionPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger gateway: %w", err)
	}

	store, err := mapping.Open(ctx, cfg.MappingFile)
	if err != nil {
		return nil, fmt.Errorf("mapping store: %w", err)
	}

	a := &App{
		Config:      cfg,
		Coordinator: login.NewCoordinator(),
		Gateway:     gw,
		Store:       store,
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	browser := portal.NewChromeBrowser(portal.ChromeConfig{
		Headful:        cfg.Landg.Headful,
		DisableSandbox: cfg.Landg.DisableSandbox,
		ExecPath:       cfg.Landg.ExecPath,
		UserAgent:      cfg.Landg.UserAgent,
	})
	a.Observer = portal.NewObserver(browser, a.Coordinator, cfg.Landg.CodeTimeout, log)
	if cfg.GeminiModel != "" {
		extractor, err := portal.NewGeminiExtractor(ctx, cfg.GeminiModel)
		if err != nil {
			log.Warn().Err(err).Msg("Gemini fallback disabled")
		} else {
			a.Observer.WithFallback(extractor)
		}
	}

	a.Recorder = a.recorders(ctx, cfg, log)

	a.Credentials = portal.Credentials{
		Email:       cfg.Landg.Email,
		Password:    cfg.Landg.Password,
		CookiesFile: cfg.Landg.CookiesFile,
	}
	a.Engine = reconcile.NewEngine(gw, store, a.Observer, a.Credentials, log).WithRecorder(a.Recorder)
	a.Runner = jobs.NewRunner(a.Engine, a.Observer, a.Credentials)

	return a, nil
}

func (a *App) recorders(ctx context.Context, cfg *config.Config, log zerolog.Logger) history.Recorder {
	var sinks history.Multi

	if cfg.GCPProject != "" {
		bq, err := history.NewBigQueryRecorder(ctx, cfg.GCPProject, cfg.HistoryDataset, cfg.HistoryTable)
		if err != nil {
			log.Warn().Err(err).Msg("BigQuery history disabled")
		} else {
			sinks = append(sinks, bq)
			a.History = bq
			a.closers = append(a.closers, bq)
		}
	}

	if cfg.NotionToken != "" && cfg.NotionDBID != "" {
		sinks = append(sinks, history.NewNotionRecorder(history.NewNotionClient(cfg.NotionToken), cfg.NotionDBID))
	}

	if len(sinks) == 0 {
		return history.Nop{}
	}
	return sinks
}

// Close releases sink and storage clients.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
