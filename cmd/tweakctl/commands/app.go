package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
	"github.com/opentweak/opentweak/pkg/policy"
	"github.com/opentweak/opentweak/pkg/stores"
	"github.com/opentweak/opentweak/pkg/system"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// appConfig is the YAML configuration for tweakctl.
type appConfig struct {
	// CatalogDir holds the tweak definition JSON files.
	CatalogDir string `yaml:"catalog_dir"`

	// DatabasePath is the SQLite file backing the config store and run
	// history. The special value ":memory:" selects an in-memory store
	// with no history.
	DatabasePath string `yaml:"database_path"`

	// PolicyPaths are extra .rego/.json policy files or directories.
	PolicyPaths []string `yaml:"policy_paths"`

	// CacheTTLMinutes bounds how long scan results stay fresh.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`

	// SkipAlreadyApplied short-circuits apply for tweaks already detected
	// as in effect. Defaults to true.
	SkipAlreadyApplied *bool `yaml:"skip_already_applied"`

	// ScriptTimeoutSeconds bounds script operations without an explicit
	// timeout.
	ScriptTimeoutSeconds int `yaml:"script_timeout_seconds"`

	// ForUser redirects user-scope config operations to another account.
	ForUser string `yaml:"for_user"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"metrics"`
}

func defaultAppConfig() appConfig {
	var cfg appConfig
	cfg.CatalogDir = "/etc/opentweak/tweaks"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Metrics.ListenAddress = ":9090"
	return cfg
}

// loadAppConfig reads the config file, falling back through the standard
// locations when no explicit path is given. A missing file yields the
// defaults.
func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	candidates := []string{path}
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			candidates = []string{filepath.Join(home, ".config", "opentweak", "config.yaml")}
		}
		candidates = append(candidates, "/etc/opentweak/config.yaml")
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		data, err := os.ReadFile(candidate)
		if os.IsNotExist(err) {
			if path != "" {
				return cfg, fmt.Errorf("config file not found: %s", candidate)
			}
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", candidate, err)
		}
		break
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// app bundles the wired engine and its resources for one command run.
type app struct {
	cfg      appConfig
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	provider *catalog.FileProvider
	store    *stores.SQLiteStore
	gate     *policy.Gate
	service  *engine.Service
}

// newApp wires the full engine from configuration: telemetry, the config
// store, catalog provider, probe and mutator, detector with built-in
// special detectors, executor, coordinator, and policy gate.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = cfg.Logging.Level
	tcfg.Logging.Format = cfg.Logging.Format
	tcfg.Metrics.Enabled = cfg.Metrics.Enabled
	tcfg.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	if err := tcfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics}

	var configStore system.ConfigStore
	var history engine.HistoryStore
	if cfg.DatabasePath == ":memory:" {
		configStore = system.NewMemoryConfigStore()
	} else {
		dbPath := cfg.DatabasePath
		if dbPath == "" {
			dbPath, err = defaultDatabasePath()
			if err != nil {
				return nil, err
			}
		}
		sqlStore, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Init(ctx); err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(ctx); err != nil {
			_ = sqlStore.Close()
			return nil, err
		}
		a.store = sqlStore
		configStore = sqlStore
		history = sqlStore
	}

	provider, err := catalog.NewFileProvider(cfg.CatalogDir, logger)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	a.provider = provider

	services := system.NewSystemdManager()
	runner := system.NewShellRunner()
	probe := system.NewProbe(configStore, services, runner, logger)
	mutator := system.NewMutator(configStore, services, runner, logger)

	detector := engine.NewRuleDetector(probe, logger, metrics)
	engine.RegisterBuiltinDetectors(detector)

	options := engine.DefaultOptions()
	if cfg.SkipAlreadyApplied != nil {
		options.SkipAlreadyApplied = *cfg.SkipAlreadyApplied
	}
	if cfg.ScriptTimeoutSeconds > 0 {
		options.DefaultScriptTimeout = time.Duration(cfg.ScriptTimeoutSeconds) * time.Second
	}
	options.ForUser = cfg.ForUser

	executor := engine.NewTweakExecutor(mutator, detector, history, logger, metrics, options)

	coordinator := engine.NewCoordinator(provider, detector, logger, metrics)
	if cfg.CacheTTLMinutes > 0 {
		coordinator.WithTTL(time.Duration(cfg.CacheTTLMinutes) * time.Minute)
	}

	gate, err := policy.NewGate(logger.Zerolog())
	if err != nil {
		a.Close()
		return nil, err
	}
	if len(cfg.PolicyPaths) > 0 {
		if err := gate.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.gate = gate

	a.service = engine.NewService(provider, detector, executor, coordinator, gate, logger)
	return a, nil
}

// Close releases the catalog watcher and database connection.
func (a *app) Close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	a.closeStore()
}

func (a *app) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func defaultDatabasePath() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine state directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	dbDir := filepath.Join(dir, "opentweak")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dbDir, "opentweak.db"), nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
