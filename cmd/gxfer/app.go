package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/franksops/gotransfer/backend"
	"github.com/franksops/gotransfer/config"
	"github.com/franksops/gotransfer/provider"
	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/store"
	"github.com/franksops/gotransfer/tool"
	"github.com/franksops/gotransfer/transfer"
)

// app holds everything a command needs: the state store, the storage
// element catalog and the configured transfer tool with its backend.
type app struct {
	cfg     *config.Config
	store   *store.BoltStore
	catalog *rse.Catalog
	tool    tool.Transfertool
	direct  *backend.Direct
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build rse catalog: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	st, err := store.NewBoltStore(filepath.Join(cfg.StateDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	a := &app{cfg: cfg, store: st, catalog: catalog}

	var b tool.Backend
	switch cfg.Backend {
	case config.BackendDirect:
		a.direct = backend.NewDirect(st, provider.NewResolver(cfg.EndpointRoots()), cfg.BufferSize, cfg.Checksum)
		if err := a.direct.Start(ctx, cfg.Streams); err != nil {
			a.Close()
			return nil, err
		}
		b = a.direct
	default:
		// Nothing moves with the memory backend, so its tasks finish at once.
		m := backend.NewMemory()
		m.InitialStatus = transfer.BackendSucceeded
		b = m
	}

	opts, err := cfg.ToolOptions(b, catalog)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tool, err = tool.New(cfg.Transfertool, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Debugf("using transfer tool %s via %s backend (%s)", a.tool.Name(), cfg.Backend, a.tool.ExternalHost())
	return a, nil
}

// Close stops the direct backend and closes the state store.
func (a *app) Close() error {
	if a.direct != nil {
		a.direct.Stop()
	}
	return a.store.Close()
}
