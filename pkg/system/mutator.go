package system

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// Mutator implements engine.SystemMutator over a config store, a service
// manager, a script runner, and the local filesystem.
type Mutator struct {
	store    ConfigStore
	services ServiceManager
	runner   ScriptRunner
	logger   *telemetry.Logger

	// elevated is resolved once at construction.
	elevated bool
}

// NewMutator creates a mutator over the given subsystems.
func NewMutator(store ConfigStore, services ServiceManager, runner ScriptRunner, logger *telemetry.Logger) *Mutator {
	return &Mutator{
		store:    store,
		services: services,
		runner:   runner,
		logger:   logger.NewComponentLogger("mutator"),
		elevated: os.Geteuid() == 0,
	}
}

// Elevated reports whether the process runs as root.
func (m *Mutator) Elevated() bool {
	return m.elevated
}

// GetConfigValue reads a value for original-state capture.
func (m *Mutator) GetConfigValue(ctx context.Context, target engine.ConfigTarget) (catalog.Value, bool, error) {
	return m.store.GetValue(ctx, HiveFor(target.Scope, target.User), target.KeyPath, target.ValueName)
}

// ConfigKeyExists checks key existence for original-state capture.
func (m *Mutator) ConfigKeyExists(ctx context.Context, target engine.ConfigTarget) (bool, error) {
	return m.store.KeyExists(ctx, HiveFor(target.Scope, target.User), target.KeyPath)
}

// SetConfigValue writes a value, creating the key if needed.
func (m *Mutator) SetConfigValue(ctx context.Context, target engine.ConfigTarget, value catalog.Value, kind catalog.ValueKind) error {
	return m.store.SetValue(ctx, HiveFor(target.Scope, target.User), target.KeyPath, target.ValueName, value, kind)
}

// DeleteConfigValue removes a single value.
func (m *Mutator) DeleteConfigValue(ctx context.Context, target engine.ConfigTarget) error {
	return m.store.DeleteValue(ctx, HiveFor(target.Scope, target.User), target.KeyPath, target.ValueName)
}

// DeleteConfigKey removes a key and everything under it.
func (m *Mutator) DeleteConfigKey(ctx context.Context, target engine.ConfigTarget) error {
	return m.store.DeleteKey(ctx, HiveFor(target.Scope, target.User), target.KeyPath)
}

// CreateConfigKey creates an empty key.
func (m *Mutator) CreateConfigKey(ctx context.Context, target engine.ConfigTarget) error {
	return m.store.CreateKey(ctx, HiveFor(target.Scope, target.User), target.KeyPath)
}

// ServiceStartupType reads a service's startup type for capture.
func (m *Mutator) ServiceStartupType(ctx context.Context, name string) (catalog.ServiceStartupType, bool, error) {
	return m.services.StartupType(ctx, name)
}

// StartService starts a service.
func (m *Mutator) StartService(ctx context.Context, name string) error {
	return m.services.Start(ctx, name)
}

// StopService stops a service.
func (m *Mutator) StopService(ctx context.Context, name string) error {
	return m.services.Stop(ctx, name)
}

// EnableService enables a service to start.
func (m *Mutator) EnableService(ctx context.Context, name string) error {
	return m.services.Enable(ctx, name)
}

// DisableService stops and disables a service.
func (m *Mutator) DisableService(ctx context.Context, name string) error {
	return m.services.Disable(ctx, name)
}

// SetServiceStartupType changes a service's startup configuration.
func (m *Mutator) SetServiceStartupType(ctx context.Context, name string, startupType catalog.ServiceStartupType) error {
	return m.services.SetStartupType(ctx, name, startupType)
}

// RunScript runs a script with a bounded timeout.
func (m *Mutator) RunScript(ctx context.Context, script string, elevated bool, timeout time.Duration) (engine.ScriptOutput, error) {
	// Already-root processes do not need the sudo path.
	if m.elevated {
		elevated = false
	}
	return m.runner.Run(ctx, script, elevated, timeout)
}

// DeleteFile removes a file, or a directory recursively.
func (m *Mutator) DeleteFile(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

// CreateFile writes a file, optionally creating parent directories.
func (m *Mutator) CreateFile(_ context.Context, path, content string, createDirectories bool) error {
	if createDirectories {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// CreateDirectory creates a directory including parents.
func (m *Mutator) CreateDirectory(_ context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

// CopyFile copies a file, preserving its mode. Used for pre-mutation
// backups.
func (m *Mutator) CopyFile(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
