package catalog

import (
	"fmt"
	"strings"
)

// ConfigOperationKind selects what a config-store operation does.
type ConfigOperationKind string

const (
	// ConfigOpSetValue writes a value under a key, creating the key if needed.
	ConfigOpSetValue ConfigOperationKind = "set_value"

	// ConfigOpDeleteValue removes a single named value from a key.
	ConfigOpDeleteValue ConfigOperationKind = "delete_value"

	// ConfigOpDeleteKey removes a key and everything under it.
	ConfigOpDeleteKey ConfigOperationKind = "delete_key"

	// ConfigOpCreateKey creates an empty key.
	ConfigOpCreateKey ConfigOperationKind = "create_key"
)

// Validate checks that the kind is a known value.
func (k ConfigOperationKind) Validate() error {
	switch k {
	case ConfigOpSetValue, ConfigOpDeleteValue, ConfigOpDeleteKey, ConfigOpCreateKey:
		return nil
	default:
		return fmt.Errorf("invalid config operation kind: %q", string(k))
	}
}

// ConfigOperation describes one config-store mutation.
//
// OriginalValue and ExistedBefore are the revert-capture fields. They start
// nil, are populated exactly once by the execution engine before the first
// mutation, and are consumed at revert to restore prior state.
type ConfigOperation struct {
	// Scope selects the machine or user hive.
	Scope ConfigScope `json:"scope" validate:"required"`

	// KeyPath is the slash-separated key path within the hive.
	KeyPath string `json:"key_path" validate:"required"`

	// ValueName names the value under the key. Empty targets the key itself.
	ValueName string `json:"value_name,omitempty"`

	// Value is the payload for SetValue operations.
	Value Value `json:"value,omitempty"`

	// ValueKind tags how Value is typed.
	ValueKind ValueKind `json:"value_kind,omitempty"`

	// Kind selects the mutation performed.
	Kind ConfigOperationKind `json:"kind" validate:"required"`

	// OriginalValue holds the payload observed before the first mutation,
	// if the value existed. Write-once.
	OriginalValue *Value `json:"original_value,omitempty"`

	// ExistedBefore records whether the target existed before the first
	// mutation. Write-once.
	ExistedBefore *bool `json:"existed_before,omitempty"`
}

// Describe renders a short human-readable summary of the operation.
func (o *ConfigOperation) Describe() string {
	target := string(o.Scope) + ":" + o.KeyPath
	if o.ValueName != "" {
		target += "!" + o.ValueName
	}
	switch o.Kind {
	case ConfigOpSetValue:
		return fmt.Sprintf("set %s = %s", target, o.Value.String())
	case ConfigOpDeleteValue:
		return fmt.Sprintf("delete value %s", target)
	case ConfigOpDeleteKey:
		return fmt.Sprintf("delete key %s", target)
	case ConfigOpCreateKey:
		return fmt.Sprintf("create key %s", target)
	default:
		return fmt.Sprintf("unknown config operation on %s", target)
	}
}

// ServiceOperationKind selects what a service operation does.
type ServiceOperationKind string

const (
	// ServiceOpStop stops a running service.
	ServiceOpStop ServiceOperationKind = "stop"

	// ServiceOpStart starts a stopped service.
	ServiceOpStart ServiceOperationKind = "start"

	// ServiceOpDisable stops a service and disables it from starting.
	ServiceOpDisable ServiceOperationKind = "disable"

	// ServiceOpEnable enables a service to start.
	ServiceOpEnable ServiceOperationKind = "enable"

	// ServiceOpSetStartupType changes only the startup configuration.
	ServiceOpSetStartupType ServiceOperationKind = "set_startup_type"
)

// Validate checks that the kind is a known value.
func (k ServiceOperationKind) Validate() error {
	switch k {
	case ServiceOpStop, ServiceOpStart, ServiceOpDisable, ServiceOpEnable, ServiceOpSetStartupType:
		return nil
	default:
		return fmt.Errorf("invalid service operation kind: %q", string(k))
	}
}

// ServiceStartupType is how a service is configured to start.
type ServiceStartupType string

const (
	// StartupAutomatic starts the service at boot.
	StartupAutomatic ServiceStartupType = "automatic"

	// StartupManual starts the service only on demand.
	StartupManual ServiceStartupType = "manual"

	// StartupDisabled prevents the service from starting.
	StartupDisabled ServiceStartupType = "disabled"
)

// Validate checks that the startup type is a known value.
func (t ServiceStartupType) Validate() error {
	switch t {
	case StartupAutomatic, StartupManual, StartupDisabled:
		return nil
	default:
		return fmt.Errorf("invalid startup type: %q", string(t))
	}
}

// ServiceOperation describes one service-control action.
// OriginalStartupType is the revert-capture field, populated once before
// the first change to the service's startup configuration.
type ServiceOperation struct {
	// Name is the service name as known to the service manager.
	Name string `json:"name" validate:"required"`

	// Kind selects the action performed.
	Kind ServiceOperationKind `json:"kind" validate:"required"`

	// StartupType is the desired startup type for SetStartupType.
	StartupType ServiceStartupType `json:"startup_type,omitempty"`

	// OriginalStartupType records the startup type observed before the
	// first change. Write-once.
	OriginalStartupType *ServiceStartupType `json:"original_startup_type,omitempty"`
}

// Describe renders a short human-readable summary of the operation.
func (o *ServiceOperation) Describe() string {
	if o.Kind == ServiceOpSetStartupType {
		return fmt.Sprintf("set startup type of service %s to %s", o.Name, o.StartupType)
	}
	return fmt.Sprintf("%s service %s", o.Kind, o.Name)
}

// FileOperationKind selects what a file operation does.
type FileOperationKind string

const (
	// FileOpDelete removes a file, or a directory recursively.
	FileOpDelete FileOperationKind = "delete"

	// FileOpCreateFile writes a file with the given content.
	FileOpCreateFile FileOperationKind = "create_file"

	// FileOpCreateDirectory creates a directory.
	FileOpCreateDirectory FileOperationKind = "create_directory"

	// FileOpRename renames or moves a file.
	FileOpRename FileOperationKind = "rename"

	// FileOpSetAttributes changes file mode bits.
	FileOpSetAttributes FileOperationKind = "set_attributes"

	// FileOpTakeOwnership changes file ownership.
	FileOpTakeOwnership FileOperationKind = "take_ownership"
)

// Validate checks that the kind is a known value.
func (k FileOperationKind) Validate() error {
	switch k {
	case FileOpDelete, FileOpCreateFile, FileOpCreateDirectory,
		FileOpRename, FileOpSetAttributes, FileOpTakeOwnership:
		return nil
	default:
		return fmt.Errorf("invalid file operation kind: %q", string(k))
	}
}

// FileOperation describes one filesystem mutation.
type FileOperation struct {
	// Path is the target path.
	Path string `json:"path" validate:"required"`

	// Kind selects the mutation performed.
	Kind FileOperationKind `json:"kind" validate:"required"`

	// Content is the file body for CreateFile.
	Content string `json:"content,omitempty"`

	// TargetPath is the destination for Rename.
	TargetPath string `json:"target_path,omitempty"`

	// CreateDirectories creates missing parent directories for CreateFile.
	CreateDirectories bool `json:"create_directories,omitempty"`

	// BackupPath, if set, receives a copy of the original before mutation.
	BackupPath string `json:"backup_path,omitempty"`
}

// Describe renders a short human-readable summary of the operation.
func (o *FileOperation) Describe() string {
	switch o.Kind {
	case FileOpRename:
		return fmt.Sprintf("rename %s to %s", o.Path, o.TargetPath)
	default:
		return fmt.Sprintf("%s %s", strings.ReplaceAll(string(o.Kind), "_", " "), o.Path)
	}
}

// ScriptOperation describes one script execution.
type ScriptOperation struct {
	// Script is the script body passed to the shell.
	Script string `json:"script" validate:"required"`

	// RunElevated requests elevated execution. Elevated runs cannot
	// capture output.
	RunElevated bool `json:"run_elevated,omitempty"`

	// TimeoutSeconds bounds execution; the process is killed on expiry.
	// Zero means the runner's default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// RevertScript is the distinct script run on revert. Empty means the
	// operation cannot be reverted and revert records a no-op.
	RevertScript string `json:"revert_script,omitempty"`
}

// Describe renders a short human-readable summary of the operation.
func (o *ScriptOperation) Describe() string {
	first := o.Script
	if idx := strings.IndexByte(first, '\n'); idx >= 0 {
		first = first[:idx]
	}
	if len(first) > 60 {
		first = first[:60] + "..."
	}
	return fmt.Sprintf("run script %q", first)
}
