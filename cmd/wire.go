package cmd

import (
	"context"
	"fmt"

	"piesta-gateway/internal/config"
	"piesta-gateway/internal/dispatch"
	"piesta-gateway/internal/fanout"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
	providerfactory "piesta-gateway/internal/provider/factory"
	"piesta-gateway/internal/refine"
	"piesta-gateway/internal/router"
	"piesta-gateway/internal/server"
	"piesta-gateway/internal/store"
	"piesta-gateway/internal/trust"
)

// core is the dispatch pipeline shared by serve and compare.
type core struct {
	router   *router.Router
	adapters *provider.Registry
	trust    *trust.Annotator
	dispatch *dispatch.Coordinator
	fanout   *fanout.Orchestrator
}

func buildCore(cfg config.Config) (*core, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	rt, err := router.New(cat)
	if err != nil {
		return nil, err
	}
	adapters, err := providerfactory.NewRegistry(cfg.Providers, cat)
	if err != nil {
		return nil, err
	}

	var trustOpts []trust.Option
	if !cfg.Trust.Jitter {
		trustOpts = append(trustOpts, trust.WithoutJitter())
	}
	if cfg.Trust.Seed != 0 {
		trustOpts = append(trustOpts, trust.WithSeed(cfg.Trust.Seed))
	}
	annotator := trust.New(trustOpts...)

	coord, err := dispatch.New(rt, adapters, annotator)
	if err != nil {
		return nil, err
	}
	orch, err := fanout.New(coord, fanout.WithMaxParallel(cfg.Fanout.MaxParallel))
	if err != nil {
		return nil, err
	}

	return &core{
		router:   rt,
		adapters: adapters,
		trust:    annotator,
		dispatch: coord,
		fanout:   orch,
	}, nil
}

// buildServices wires everything the HTTP server exposes. The returned
// close function releases the history store.
func buildServices(ctx context.Context, cfg config.Config, creds models.Credentials) (server.Services, func() error, error) {
	c, err := buildCore(cfg)
	if err != nil {
		return server.Services{}, nil, err
	}

	chat, err := c.adapters.Lookup(models.FamilyChat)
	if err != nil {
		return server.Services{}, nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return server.Services{}, nil, fmt.Errorf("open %s history store: %w", cfg.Store.Backend, err)
	}

	return server.Services{
		Router:      c.router,
		Dispatcher:  c.dispatch,
		Fanout:      c.fanout,
		Refiner:     refine.New(chat, refine.DefaultModel),
		Trust:       c.trust,
		History:     store.NewHistory(st),
		Credentials: creds,
	}, st.Close, nil
}
