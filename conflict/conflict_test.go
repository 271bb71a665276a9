package conflict

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/layout"
)

type MockRegistry struct {
	instances map[string]*domain.InstanceConfig
	failWith  error
	calls     *[]string
}

func NewMockRegistry(calls *[]string) *MockRegistry {
	return &MockRegistry{instances: make(map[string]*domain.InstanceConfig), calls: calls}
}

func (m *MockRegistry) FindByName(ctx context.Context, name string) (*domain.InstanceConfig, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	cfg, ok := m.instances[name]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	return cfg, nil
}

func (m *MockRegistry) Delete(ctx context.Context, name string) error {
	*m.calls = append(*m.calls, "registry.delete")
	if _, ok := m.instances[name]; !ok {
		return domain.ErrInstanceNotFound
	}
	delete(m.instances, name)
	return nil
}

type MockRuntime struct {
	containers map[string]string // instance name -> container id
	running    map[string]bool
	failWith   error
	calls      *[]string
}

func NewMockRuntime(calls *[]string) *MockRuntime {
	return &MockRuntime{
		containers: make(map[string]string),
		running:    make(map[string]bool),
		calls:      calls,
	}
}

func (m *MockRuntime) FindByName(ctx context.Context, instance string) (string, bool, error) {
	if m.failWith != nil {
		return "", false, m.failWith
	}
	id, ok := m.containers[instance]
	return id, ok, nil
}

func (m *MockRuntime) Stop(ctx context.Context, id string) error {
	*m.calls = append(*m.calls, "runtime.stop")
	for name := range m.containers {
		if m.containers[name] == id {
			m.running[name] = false
		}
	}
	return nil
}

func (m *MockRuntime) Remove(ctx context.Context, id string) error {
	*m.calls = append(*m.calls, "runtime.remove")
	for name, cid := range m.containers {
		if cid == id {
			delete(m.containers, name)
		}
	}
	return nil
}

type fixture struct {
	registry *MockRegistry
	runtime  *MockRuntime
	layout   layout.Layout
	detector *Detector
	calls    []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.registry = NewMockRegistry(&f.calls)
	f.runtime = NewMockRuntime(&f.calls)
	f.layout = layout.New(t.TempDir())
	f.detector = NewDetector(f.registry, f.runtime, f.layout)
	return f
}

func (f *fixture) makeDataDir(t *testing.T, name string) {
	t.Helper()
	if err := os.MkdirAll(f.layout.DataDir(name), 0o755); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) dataDirExists(name string) bool {
	_, err := os.Stat(f.layout.DataDir(name))
	return err == nil
}

func proposed(name string) *domain.InstanceConfig {
	return domain.NewInstanceConfig(name, domain.Pack{})
}

func TestDetectAllAbsent(t *testing.T) {
	f := newFixture(t)

	c, err := f.detector.Detect(context.Background(), proposed("alpha"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if c.Detected() {
		t.Errorf("no stores populated but conflict detected: %+v", c)
	}
}

func TestDetectEachStoreIndependently(t *testing.T) {
	for _, tt := range []struct {
		name                       string
		registry, runtime, dataDir bool
	}{
		{"registry only", true, false, false},
		{"runtime only", false, true, false},
		{"data dir only", false, false, true},
		{"registry and runtime", true, true, false},
		{"all three", true, true, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.registry {
				f.registry.instances["alpha"] = proposed("alpha")
			}
			if tt.runtime {
				f.runtime.containers["alpha"] = "cid-1"
			}
			if tt.dataDir {
				f.makeDataDir(t, "alpha")
			}

			c, err := f.detector.Detect(context.Background(), proposed("alpha"))
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if c.RegistryEntryExists != tt.registry || c.RuntimeEntryExists != tt.runtime || c.DataDirExists != tt.dataDir {
				t.Errorf("flags = %v/%v/%v, want %v/%v/%v",
					c.RegistryEntryExists, c.RuntimeEntryExists, c.DataDirExists,
					tt.registry, tt.runtime, tt.dataDir)
			}
			if tt.runtime && c.ContainerID != "cid-1" {
				t.Errorf("ContainerID = %q", c.ContainerID)
			}
			if !c.Detected() {
				t.Error("Detected() = false with a populated store")
			}
		})
	}
}

func TestDetectUnreachableRuntimeAssumesAbsent(t *testing.T) {
	f := newFixture(t)
	f.runtime.failWith = errors.New("daemon unreachable")

	c, err := f.detector.Detect(context.Background(), proposed("alpha"))
	if err != nil {
		t.Fatalf("Detect should not fail on unreachable runtime: %v", err)
	}
	if c.RuntimeEntryExists {
		t.Error("unreachable runtime must be treated as absent")
	}
}

func TestDetectRegistryFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.registry.failWith = errors.New("disk error")

	if _, err := f.detector.Detect(context.Background(), proposed("alpha")); err == nil {
		t.Fatal("registry failure other than not-found must propagate")
	}
}

func TestResolveReplaceClearsAllThree(t *testing.T) {
	f := newFixture(t)
	f.registry.instances["alpha"] = proposed("alpha")
	f.runtime.containers["alpha"] = "cid-1"
	f.makeDataDir(t, "alpha")

	c, err := f.detector.Detect(context.Background(), proposed("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.detector.Resolve(context.Background(), c, domain.ResolutionReplace); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, ok := f.registry.instances["alpha"]; ok {
		t.Error("registry entry survived Replace")
	}
	if _, ok := f.runtime.containers["alpha"]; ok {
		t.Error("container survived Replace")
	}
	if f.dataDirExists("alpha") {
		t.Error("data directory survived Replace")
	}
}

func TestResolveReuseKeepsDataDir(t *testing.T) {
	f := newFixture(t)
	f.registry.instances["alpha"] = proposed("alpha")
	f.runtime.containers["alpha"] = "cid-1"
	f.makeDataDir(t, "alpha")

	c, err := f.detector.Detect(context.Background(), proposed("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.detector.Resolve(context.Background(), c, domain.ResolutionReuse); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, ok := f.registry.instances["alpha"]; ok {
		t.Error("registry entry survived Reuse")
	}
	if _, ok := f.runtime.containers["alpha"]; ok {
		t.Error("container survived Reuse")
	}
	if !f.dataDirExists("alpha") {
		t.Error("data directory must survive Reuse")
	}
}

func TestResolveRenameAndCancelAreNoOps(t *testing.T) {
	for _, action := range []domain.Resolution{domain.ResolutionRename, domain.ResolutionCancel} {
		f := newFixture(t)
		f.registry.instances["alpha"] = proposed("alpha")
		f.runtime.containers["alpha"] = "cid-1"
		f.makeDataDir(t, "alpha")

		c, err := f.detector.Detect(context.Background(), proposed("alpha"))
		if err != nil {
			t.Fatal(err)
		}
		if err := f.detector.Resolve(context.Background(), c, action); err != nil {
			t.Fatalf("Resolve(%s) failed: %v", action, err)
		}

		if _, ok := f.registry.instances["alpha"]; !ok {
			t.Errorf("%s touched the registry", action)
		}
		if _, ok := f.runtime.containers["alpha"]; !ok {
			t.Errorf("%s touched the runtime", action)
		}
		if !f.dataDirExists("alpha") {
			t.Errorf("%s touched the filesystem", action)
		}
	}
}

func TestResolveSafeWhenTargetsAlreadyAbsent(t *testing.T) {
	f := newFixture(t)
	// Nothing exists; a previous resolution may already have run.
	c := &domain.NameConflict{Name: "alpha", Proposed: proposed("alpha")}

	if err := f.detector.Resolve(context.Background(), c, domain.ResolutionReplace); err != nil {
		t.Fatalf("Resolve on absent targets must succeed: %v", err)
	}
	if err := f.detector.Resolve(context.Background(), c, domain.ResolutionReplace); err != nil {
		t.Fatalf("Resolve must be re-runnable: %v", err)
	}
}

func TestResolveRegistryRemovedBeforeRuntime(t *testing.T) {
	f := newFixture(t)
	f.registry.instances["alpha"] = proposed("alpha")
	f.runtime.containers["alpha"] = "cid-1"

	c, err := f.detector.Detect(context.Background(), proposed("alpha"))
	if err != nil {
		t.Fatal(err)
	}

	f.calls = nil
	if err := f.detector.Resolve(context.Background(), c, domain.ResolutionReuse); err != nil {
		t.Fatal(err)
	}

	want := []string{"registry.delete", "runtime.stop", "runtime.remove"}
	if len(f.calls) != len(want) {
		t.Fatalf("call trace = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("call trace = %v, want %v", f.calls, want)
		}
	}
}
