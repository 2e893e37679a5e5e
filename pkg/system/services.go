package system

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
)

// ServiceManager is the service-control surface probes and mutators share.
// Lookups report unknown services as found=false with a nil error.
type ServiceManager interface {
	// Status reads a service's run state and startup type.
	Status(ctx context.Context, name string) (engine.ServiceInfo, bool, error)

	// StartupType reads only the startup configuration.
	StartupType(ctx context.Context, name string) (catalog.ServiceStartupType, bool, error)

	// Start, Stop, Enable, Disable, SetStartupType drive the service.
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	SetStartupType(ctx context.Context, name string, startupType catalog.ServiceStartupType) error
}

// SystemdManager controls services through systemctl.
//
// Startup type mapping: enabled units are "automatic", units that are
// present but not enabled are "manual", masked units are "disabled".
type SystemdManager struct{}

// NewSystemdManager creates a systemctl-backed service manager.
func NewSystemdManager() *SystemdManager {
	return &SystemdManager{}
}

// Status reads a service's run state and startup type.
func (m *SystemdManager) Status(ctx context.Context, name string) (engine.ServiceInfo, bool, error) {
	// LoadState distinguishes unknown units from known-but-stopped ones.
	loadCmd := exec.CommandContext(ctx, "systemctl", "show", name, "--property=LoadState", "--value")
	loadOut, err := loadCmd.Output()
	if err != nil {
		return engine.ServiceInfo{}, false, fmt.Errorf("systemctl unavailable: %w", err)
	}
	loadState := strings.TrimSpace(string(loadOut))
	if loadState == "not-found" || loadState == "" {
		return engine.ServiceInfo{}, false, nil
	}

	activeCmd := exec.CommandContext(ctx, "systemctl", "is-active", name)
	activeOut, _ := activeCmd.Output()
	running := strings.TrimSpace(string(activeOut)) == "active"

	startup, _, err := m.StartupType(ctx, name)
	if err != nil {
		return engine.ServiceInfo{}, false, err
	}

	return engine.ServiceInfo{
		Running:     running,
		StartupType: startup,
	}, true, nil
}

// StartupType reads only the startup configuration.
func (m *SystemdManager) StartupType(ctx context.Context, name string) (catalog.ServiceStartupType, bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-enabled", name)
	// is-enabled exits non-zero for disabled and masked units; the output
	// still carries the state.
	out, _ := cmd.Output()
	switch strings.TrimSpace(string(out)) {
	case "enabled", "enabled-runtime", "static", "alias", "linked":
		return catalog.StartupAutomatic, true, nil
	case "disabled", "indirect":
		return catalog.StartupManual, true, nil
	case "masked", "masked-runtime":
		return catalog.StartupDisabled, true, nil
	case "":
		return "", false, nil
	default:
		return catalog.StartupManual, true, nil
	}
}

// Start starts the service.
func (m *SystemdManager) Start(ctx context.Context, name string) error {
	return m.run(ctx, "start", name)
}

// Stop stops the service.
func (m *SystemdManager) Stop(ctx context.Context, name string) error {
	return m.run(ctx, "stop", name)
}

// Enable unmasks and enables the service.
func (m *SystemdManager) Enable(ctx context.Context, name string) error {
	if err := m.run(ctx, "unmask", name); err != nil {
		return err
	}
	return m.run(ctx, "enable", name)
}

// Disable stops and masks the service so it cannot start.
func (m *SystemdManager) Disable(ctx context.Context, name string) error {
	if err := m.run(ctx, "stop", name); err != nil {
		return err
	}
	return m.run(ctx, "mask", name)
}

// SetStartupType changes only the startup configuration.
func (m *SystemdManager) SetStartupType(ctx context.Context, name string, startupType catalog.ServiceStartupType) error {
	switch startupType {
	case catalog.StartupAutomatic:
		if err := m.run(ctx, "unmask", name); err != nil {
			return err
		}
		return m.run(ctx, "enable", name)
	case catalog.StartupManual:
		if err := m.run(ctx, "unmask", name); err != nil {
			return err
		}
		return m.run(ctx, "disable", name)
	case catalog.StartupDisabled:
		return m.run(ctx, "mask", name)
	default:
		return fmt.Errorf("invalid startup type: %s", startupType)
	}
}

func (m *SystemdManager) run(ctx context.Context, action, name string) error {
	cmd := exec.CommandContext(ctx, "systemctl", action, name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl %s %s failed: %s: %w", action, name, strings.TrimSpace(string(out)), err)
	}
	return nil
}
