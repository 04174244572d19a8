package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/metrics"
	"github.com/danielpatrickdp/decision-dialogue/internal/store"
	"go.uber.org/zap"
)

// runtime is an engine wired to its optional store and metrics.
type runtime struct {
	engine  *engine.Engine
	built   *config.Built
	store   *store.Store
	metrics *metrics.Collectors
}

// openRuntime builds the engine from cfg. With a storage path every decision
// and retrain is persisted, and the log and active model are restored first
// when the config asks for it.
func openRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}
	opts := []engine.Option{engine.WithLogger(logger), engine.WithObserver(rt.metrics)}

	if cfg.Storage.Path != "" {
		st, err := store.NewStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		rt.store = st
		opts = append(opts, engine.WithRecorder(st))
	}

	e, b, err := config.NewEngine(cfg, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.engine, rt.built = e, b

	if rt.store != nil {
		if err := rt.restore(ctx, cfg.Storage, logger); err != nil {
			rt.close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) restore(ctx context.Context, sc config.StorageConfig, logger *zap.Logger) error {
	if sc.RestoreLog {
		records, err := rt.store.LoadInteractions(ctx, rt.built.Schema, sc.LogLimit)
		if err != nil {
			return err
		}
		if err := rt.engine.ImportLog(records); err != nil {
			return fmt.Errorf("restore log from %s: %w", sc.Path, err)
		}
	}
	if sc.RestoreModel {
		m, err := rt.store.ActiveModel(ctx)
		switch {
		case errors.Is(err, store.ErrNoActivePolicy):
			logger.Info("no persisted model, starting from config policy")
		case err != nil:
			return err
		default:
			if err := rt.engine.RestoreModel(m); err != nil {
				return err
			}
			logger.Info("model restored", zap.String("version", m.VersionID), zap.Int("samples", m.SampleCount))
		}
	}
	return nil
}

func (rt *runtime) close() {
	if rt.engine != nil {
		_ = rt.engine.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
