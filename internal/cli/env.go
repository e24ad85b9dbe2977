package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/config"
	"github.com/jackson-sweet/opsapp-sub000/internal/engine"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/store/memstore"
)

// env is what the store-backed commands share: validated config, the local
// store and an engine in manual sync mode.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	sqlite *store.SQLiteStore // nil for the in-memory store
	engine *engine.Engine
}

// loadConfig reads and validates the config, applying flag overrides.
// Command-specific overrides run after the global ones.
func loadConfig(opts *RootOptions, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openEnv loads the config, opens the local store and builds the engine.
// The remote is the configured backend, or remote.Unconfigured when
// remote_url is empty. Callers must Close the env.
func openEnv(opts *RootOptions, cmd *cobra.Command, overrides ...func(*config.Config)) (*env, error) {
	cfg, err := loadConfig(opts, overrides...)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)

	e := &env{cfg: cfg, logger: logger}
	if cfg.Database == "" || cfg.Database == ":memory:" {
		st, err := memstore.New()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create in-memory store", err)
		}
		e.store = st
	} else {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		e.store, e.sqlite = st, st
	}
	logger.Debug("store opened", "database", cfg.Database)

	var client remote.Client = remote.Unconfigured{}
	if cfg.RemoteURL != "" {
		c, err := remote.NewHTTPClient(cfg.RemoteURL, remote.WithToken(cfg.Token))
		if err != nil {
			e.Close()
			return nil, WrapExitError(ExitCommandError, "invalid remote", err)
		}
		client = c
	}

	role, mode := cfg.Session()
	e.engine, err = engine.New(e.store, client,
		engine.WithManualSync(),
		engine.WithLogger(logger),
		engine.WithSyncTimeout(cfg.Sync.Timeout),
		engine.WithSession(role, mode),
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, nil
}

// background builds a pass runner over the env's engine.
func (e *env) background() *engine.Background {
	return engine.NewBackground(e.engine,
		engine.WithWorkers(e.cfg.Sync.Workers),
		engine.WithDebounce(e.cfg.Sync.Debounce),
		engine.WithRetryInterval(e.cfg.Sync.RetryInterval),
		engine.WithBackgroundLogger(e.logger),
	)
}

// Close releases the database.
func (e *env) Close() error {
	if e.sqlite != nil {
		return e.sqlite.Close()
	}
	return nil
}

// parseRef parses "kind/id".
func parseRef(s string) (ir.EntityRef, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return ir.EntityRef{}, fmt.Errorf("invalid entity %q: want kind/id", s)
	}
	k, err := ir.ParseKind(kind)
	if err != nil {
		return ir.EntityRef{}, err
	}
	return ir.Ref(k, id), nil
}

func sortedRefs[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
