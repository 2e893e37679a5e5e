package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

func testLogger() *telemetry.Logger {
	return telemetry.NewNopLogger()
}

func configKey(scope catalog.ConfigScope, user, keyPath, valueName string) string {
	return string(scope) + "|" + user + "|" + strings.ToLower(keyPath) + "|" + strings.ToLower(valueName)
}

// fakeProbe is an in-memory SystemProbe for detector tests.
type fakeProbe struct {
	values   map[string]catalog.Value
	keys     map[string]bool
	services map[string]ServiceInfo
	files    map[string]bool

	scriptOut ScriptOutput
	scriptErr error

	// err, when set, makes every config read fail like a broken store.
	err error

	configReads int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		values:   make(map[string]catalog.Value),
		keys:     make(map[string]bool),
		services: make(map[string]ServiceInfo),
		files:    make(map[string]bool),
	}
}

func (p *fakeProbe) setValue(scope catalog.ConfigScope, keyPath, valueName string, v catalog.Value) {
	p.values[configKey(scope, "", keyPath, valueName)] = v
}

func (p *fakeProbe) GetConfigValue(_ context.Context, scope catalog.ConfigScope, keyPath, valueName string) (catalog.Value, bool, error) {
	p.configReads++
	if p.err != nil {
		return catalog.Value{}, false, p.err
	}
	v, ok := p.values[configKey(scope, "", keyPath, valueName)]
	return v, ok, nil
}

func (p *fakeProbe) ConfigKeyExists(_ context.Context, scope catalog.ConfigScope, keyPath string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.keys[configKey(scope, "", keyPath, "")], nil
}

func (p *fakeProbe) ServiceStatus(_ context.Context, name string) (ServiceInfo, bool, error) {
	if p.err != nil {
		return ServiceInfo{}, false, p.err
	}
	info, ok := p.services[name]
	return info, ok, nil
}

func (p *fakeProbe) FileExists(_ context.Context, path string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.files[path], nil
}

func (p *fakeProbe) RunDiagnosticScript(_ context.Context, _ string, _ time.Duration) (ScriptOutput, error) {
	if p.scriptErr != nil {
		return ScriptOutput{}, p.scriptErr
	}
	return p.scriptOut, nil
}

// fakeMutator is an in-memory SystemMutator for executor tests. It keeps
// a config store and records every mutation call in order.
type fakeMutator struct {
	mu       sync.Mutex
	elevated bool

	values map[string]catalog.Value
	keys   map[string]bool

	running map[string]bool
	startup map[string]catalog.ServiceStartupType

	scriptOut ScriptOutput
	scriptErr error

	// failCalls maps a recorded call prefix to a forced error.
	failCalls map[string]error

	calls []string
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{
		elevated:  true,
		values:    make(map[string]catalog.Value),
		keys:      make(map[string]bool),
		running:   make(map[string]bool),
		startup:   make(map[string]catalog.ServiceStartupType),
		failCalls: make(map[string]error),
	}
}

func (m *fakeMutator) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	for prefix, err := range m.failCalls {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func (m *fakeMutator) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *fakeMutator) targetKey(t ConfigTarget) string {
	return configKey(t.Scope, t.User, t.KeyPath, t.ValueName)
}

func (m *fakeMutator) Elevated() bool { return m.elevated }

func (m *fakeMutator) GetConfigValue(_ context.Context, target ConfigTarget) (catalog.Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[m.targetKey(target)]
	return v, ok, nil
}

func (m *fakeMutator) ConfigKeyExists(_ context.Context, target ConfigTarget) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[configKey(target.Scope, target.User, target.KeyPath, "")], nil
}

func (m *fakeMutator) SetConfigValue(_ context.Context, target ConfigTarget, value catalog.Value, _ catalog.ValueKind) error {
	if err := m.record("set " + m.targetKey(target) + "=" + value.String()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[m.targetKey(target)] = value
	m.keys[configKey(target.Scope, target.User, target.KeyPath, "")] = true
	return nil
}

func (m *fakeMutator) DeleteConfigValue(_ context.Context, target ConfigTarget) error {
	if err := m.record("delete-value " + m.targetKey(target)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, m.targetKey(target))
	return nil
}

func (m *fakeMutator) DeleteConfigKey(_ context.Context, target ConfigTarget) error {
	if err := m.record("delete-key " + configKey(target.Scope, target.User, target.KeyPath, "")); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, configKey(target.Scope, target.User, target.KeyPath, ""))
	return nil
}

func (m *fakeMutator) CreateConfigKey(_ context.Context, target ConfigTarget) error {
	if err := m.record("create-key " + configKey(target.Scope, target.User, target.KeyPath, "")); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[configKey(target.Scope, target.User, target.KeyPath, "")] = true
	return nil
}

func (m *fakeMutator) ServiceStartupType(_ context.Context, name string) (catalog.ServiceStartupType, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	startup, ok := m.startup[name]
	return startup, ok, nil
}

func (m *fakeMutator) StartService(_ context.Context, name string) error {
	if err := m.record("start " + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[name] = true
	return nil
}

func (m *fakeMutator) StopService(_ context.Context, name string) error {
	if err := m.record("stop " + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[name] = false
	return nil
}

func (m *fakeMutator) EnableService(_ context.Context, name string) error {
	if err := m.record("enable " + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startup[name] = catalog.StartupAutomatic
	return nil
}

func (m *fakeMutator) DisableService(_ context.Context, name string) error {
	if err := m.record("disable " + name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[name] = false
	m.startup[name] = catalog.StartupDisabled
	return nil
}

func (m *fakeMutator) SetServiceStartupType(_ context.Context, name string, startupType catalog.ServiceStartupType) error {
	if err := m.record("set-startup " + name + "=" + string(startupType)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startup[name] = startupType
	return nil
}

func (m *fakeMutator) RunScript(_ context.Context, script string, _ bool, _ time.Duration) (ScriptOutput, error) {
	_ = m.record("script " + firstLine(script))
	if m.scriptErr != nil {
		return ScriptOutput{}, m.scriptErr
	}
	return m.scriptOut, nil
}

func (m *fakeMutator) DeleteFile(_ context.Context, path string) error {
	return m.record("delete-file " + path)
}

func (m *fakeMutator) CreateFile(_ context.Context, path, _ string, _ bool) error {
	return m.record("create-file " + path)
}

func (m *fakeMutator) CreateDirectory(_ context.Context, path string) error {
	return m.record("create-dir " + path)
}

func (m *fakeMutator) CopyFile(_ context.Context, src, dst string) error {
	return m.record("copy " + src + " -> " + dst)
}

// fakeDetector returns canned statuses keyed by normalized tweak id.
type fakeDetector struct {
	statuses map[string]TweakStatus
	calls    int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{statuses: make(map[string]TweakStatus)}
}

func (d *fakeDetector) Evaluate(_ context.Context, tweak *catalog.Tweak) TweakStatus {
	d.calls++
	status, ok := d.statuses[catalog.NormalizeID(tweak.ID)]
	if !ok {
		return TweakStatus{TweakID: tweak.ID, CanDetect: false}
	}
	status.TweakID = tweak.ID
	return status
}

func (d *fakeDetector) EvaluateBatch(ctx context.Context, tweaks []catalog.Tweak) map[string]TweakStatus {
	out := make(map[string]TweakStatus, len(tweaks))
	for i := range tweaks {
		out[catalog.NormalizeID(tweaks[i].ID)] = d.Evaluate(ctx, &tweaks[i])
	}
	return out
}

func (d *fakeDetector) ScanAll(ctx context.Context, tweaks []catalog.Tweak) []TweakStatus {
	out := make([]TweakStatus, 0, len(tweaks))
	for i := range tweaks {
		out = append(out, d.Evaluate(ctx, &tweaks[i]))
	}
	return out
}

// fakeProvider serves a fixed tweak list.
type fakeProvider struct {
	tweaks []catalog.Tweak
}

func (p *fakeProvider) GetAll(_ context.Context) ([]catalog.Tweak, error) {
	return append([]catalog.Tweak{}, p.tweaks...), nil
}

func (p *fakeProvider) GetByID(_ context.Context, id string) (*catalog.Tweak, error) {
	for i := range p.tweaks {
		if catalog.NormalizeID(p.tweaks[i].ID) == catalog.NormalizeID(id) {
			t := p.tweaks[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) GetByCategory(_ context.Context, category string) ([]catalog.Tweak, error) {
	var out []catalog.Tweak
	for _, t := range p.tweaks {
		if catalog.NormalizeID(t.Category) == catalog.NormalizeID(category) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *fakeProvider) Search(_ context.Context, term string) ([]catalog.Tweak, error) {
	var out []catalog.Tweak
	for _, t := range p.tweaks {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(term)) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *fakeProvider) Categories(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, t := range p.tweaks {
		key := catalog.NormalizeID(t.Category)
		if !seen[key] {
			seen[key] = true
			out = append(out, t.Category)
		}
	}
	return out, nil
}

// fakeHistory records runs in memory.
type fakeHistory struct {
	mu   sync.Mutex
	runs []*RunRecord
}

func (h *fakeHistory) RecordRun(_ context.Context, run *RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return nil
}

func (h *fakeHistory) recorded() []*RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*RunRecord{}, h.runs...)
}

// fakeExecutor returns canned results keyed by normalized tweak id.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]TweakResult
	applied []string
	revoked []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(map[string]TweakResult)}
}

func (e *fakeExecutor) resultFor(id string) TweakResult {
	if r, ok := e.results[catalog.NormalizeID(id)]; ok {
		return r
	}
	return TweakResult{Success: true}
}

func (e *fakeExecutor) Apply(_ context.Context, tweak *catalog.Tweak) TweakResult {
	e.mu.Lock()
	e.applied = append(e.applied, catalog.NormalizeID(tweak.ID))
	e.mu.Unlock()
	return e.resultFor(tweak.ID)
}

func (e *fakeExecutor) Revert(_ context.Context, tweak *catalog.Tweak) TweakResult {
	e.mu.Lock()
	e.revoked = append(e.revoked, catalog.NormalizeID(tweak.ID))
	e.mu.Unlock()
	return e.resultFor(tweak.ID)
}

func (e *fakeExecutor) ApplyBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult {
	out := make(map[string]TweakResult, len(tweaks))
	for i := range tweaks {
		out[catalog.NormalizeID(tweaks[i].ID)] = e.Apply(ctx, &tweaks[i])
		if progress != nil {
			progress(Progress{TotalCount: len(tweaks), CompletedCount: len(out), CurrentName: tweaks[i].Name, CurrentPhase: "apply"})
		}
	}
	return out
}

func (e *fakeExecutor) RevertBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult {
	out := make(map[string]TweakResult, len(tweaks))
	for i := range tweaks {
		out[catalog.NormalizeID(tweaks[i].ID)] = e.Revert(ctx, &tweaks[i])
		if progress != nil {
			progress(Progress{TotalCount: len(tweaks), CompletedCount: len(out), CurrentName: tweaks[i].Name, CurrentPhase: "revert"})
		}
	}
	return out
}
