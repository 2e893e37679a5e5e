package system

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// Probe implements engine.SystemProbe over a config store, a service
// manager, and a script runner. All reads report absence as found=false
// with a nil error; errors mean the underlying subsystem is unavailable.
type Probe struct {
	store    ConfigStore
	services ServiceManager
	runner   ScriptRunner
	logger   *telemetry.Logger
}

// NewProbe creates a probe over the given subsystems.
func NewProbe(store ConfigStore, services ServiceManager, runner ScriptRunner, logger *telemetry.Logger) *Probe {
	return &Probe{
		store:    store,
		services: services,
		runner:   runner,
		logger:   logger.NewComponentLogger("probe"),
	}
}

// GetConfigValue reads a config-store value in the current user's hive.
func (p *Probe) GetConfigValue(ctx context.Context, scope catalog.ConfigScope, keyPath, valueName string) (catalog.Value, bool, error) {
	return p.store.GetValue(ctx, HiveFor(scope, ""), keyPath, valueName)
}

// ConfigKeyExists checks that a config-store key exists.
func (p *Probe) ConfigKeyExists(ctx context.Context, scope catalog.ConfigScope, keyPath string) (bool, error) {
	return p.store.KeyExists(ctx, HiveFor(scope, ""), keyPath)
}

// ServiceStatus reads a service's run state and startup type.
func (p *Probe) ServiceStatus(ctx context.Context, name string) (engine.ServiceInfo, bool, error) {
	return p.services.Status(ctx, name)
}

// FileExists checks that a file or directory exists.
func (p *Probe) FileExists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RunDiagnosticScript runs a read-only script without elevation.
func (p *Probe) RunDiagnosticScript(ctx context.Context, script string, timeout time.Duration) (engine.ScriptOutput, error) {
	return p.runner.Run(ctx, script, false, timeout)
}
