// Package service hosts the lifecycle orchestrator: a single-threaded
// control loop that owns all per-instance state, accepts intents from
// the API layer, dispatches blocking work through the task coordinator,
// and applies results back onto state one message at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/yamori310/craftdock/backup"
	"github.com/yamori310/craftdock/catalog"
	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/layout"
	"github.com/yamori310/craftdock/ping"
	"github.com/yamori310/craftdock/rcon"
	"github.com/yamori310/craftdock/runtime"
	"github.com/yamori310/craftdock/task"
)

var ErrShuttingDown = errors.New("orchestrator is shutting down")

const consoleHistoryLimit = 200

// Runtime is the container runtime surface the orchestrator consumes.
type Runtime interface {
	FindByName(ctx context.Context, instance string) (id string, found bool, err error)
	Create(ctx context.Context, cfg *domain.InstanceConfig, dataDir string, onPull func(string)) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (runtime.Status, error)
	Logs(ctx context.Context, id string, maxLines int) ([]string, error)
}

// ConflictService detects and resolves naming collisions across the
// registry, the runtime, and the filesystem.
type ConflictService interface {
	Detect(ctx context.Context, proposed *domain.InstanceConfig) (*domain.NameConflict, error)
	Resolve(ctx context.Context, c *domain.NameConflict, action domain.Resolution) error
}

// Readiness waits for an instance to become usable at the service level.
type Readiness interface {
	WaitReady(ctx context.Context, addr, containerID string) (*ping.Status, error)
}

type console interface {
	Execute(command string) (string, error)
	Close() error
}

// ConsoleDialer opens an authenticated admin session.
type ConsoleDialer func(addr, password string) (console, error)

func defaultDialer(addr, password string) (console, error) {
	return rcon.Dial(addr, password)
}

type Deps struct {
	Registry  domain.InstanceRepository
	Runtime   Runtime
	Layout    layout.Layout
	Conflicts ConflictService
	Prober    Readiness
	Backups   *backup.Manager
	Catalogs  map[string]catalog.Client
	Dialer    ConsoleDialer
	Logger    *slog.Logger

	ReconcileInterval time.Duration
}

type intent struct {
	fn    func() error
	reply chan error
}

type Orchestrator struct {
	registry  domain.InstanceRepository
	runtime   Runtime
	layout    layout.Layout
	conflicts ConflictService
	prober    Readiness
	backups   *backup.Manager
	catalogs  map[string]catalog.Client
	dial      ConsoleDialer
	logger    *slog.Logger

	reconcileEvery time.Duration

	coord   *task.Coordinator
	intents chan intent
	done    chan struct{}

	// Everything below is owned by the control loop.
	runCtx    context.Context
	instances map[string]*instanceState
	pending   map[string]*pendingConflict
	catview   CatalogView
}

func New(d Deps) *Orchestrator {
	if d.Dialer == nil {
		d.Dialer = defaultDialer
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ReconcileInterval <= 0 {
		d.ReconcileInterval = 30 * time.Second
	}
	return &Orchestrator{
		registry:       d.Registry,
		runtime:        d.Runtime,
		layout:         d.Layout,
		conflicts:      d.Conflicts,
		prober:         d.Prober,
		backups:        d.Backups,
		catalogs:       d.Catalogs,
		dial:           d.Dialer,
		logger:         d.Logger,
		reconcileEvery: d.ReconcileInterval,
		coord:          task.NewCoordinator(64),
		intents:        make(chan intent),
		done:           make(chan struct{}),
		instances:      make(map[string]*instanceState),
		pending:        make(map[string]*pendingConflict),
	}
}

// Run is the control loop. It returns after ctx is cancelled and all
// in-flight background tasks have drained.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx
	o.bootstrap(ctx)

	ticker := time.NewTicker(o.reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case in := <-o.intents:
			in.reply <- in.fn()
		case msg := <-o.coord.Results():
			o.apply(msg)
		case <-ticker.C:
			o.reconcile()
		}
	}
}

func (o *Orchestrator) bootstrap(ctx context.Context) {
	cfgs, err := o.registry.FindAll(ctx)
	if err != nil {
		o.logger.Error("failed to load instance registry", "error", err)
		return
	}
	for _, cfg := range cfgs {
		s := &instanceState{cfg: cfg, state: domain.StateStopped}
		o.instances[cfg.Name] = s
		if cfg.ContainerID != "" {
			o.dispatchInspect(s)
		}
	}
	o.logger.Info("instances loaded", "count", len(cfgs))
}

func (o *Orchestrator) shutdown() {
	for _, s := range o.instances {
		if s.probeCancel != nil {
			s.probeCancel()
		}
		if s.console != nil {
			s.console.Close()
		}
	}

	// Tasks observe the cancelled run context; keep draining so none of
	// them block on a post.
	go o.coord.Close()
	for range o.coord.Results() {
	}

	close(o.done)
	for {
		select {
		case in := <-o.intents:
			in.reply <- ErrShuttingDown
		default:
			return
		}
	}
}

// do runs fn on the control loop and waits for its outcome.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	in := intent{fn: fn, reply: make(chan error, 1)}
	select {
	case o.intents <- in:
	case <-o.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func probeAddr(cfg *domain.InstanceConfig) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))
}

func rconAddr(cfg *domain.InstanceConfig) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.RconPort()))
}

// ---- intents -------------------------------------------------------

// CreateInstance validates the proposed configuration and starts the
// conflict check. The instance only becomes visible once detection
// finds all three stores clear, or once a detected conflict is
// resolved with Replace or Reuse.
func (o *Orchestrator) CreateInstance(ctx context.Context, cfg *domain.InstanceConfig) error {
	if err := domain.ValidateName(cfg.Name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return o.do(ctx, func() error {
		// A failed create for the same name is superseded; anything
		// still in flight blocks.
		if p, ok := o.pending[cfg.Name]; ok && p.Phase != conflictFailed {
			return domain.ErrConflictPending
		}
		if _, ok := o.instances[cfg.Name]; ok {
			return domain.ErrInstanceAlreadyExists
		}
		o.pending[cfg.Name] = &pendingConflict{Phase: conflictChecking, Proposed: cfg}
		o.dispatchDetect(cfg)
		return nil
	})
}

// ResolveConflict consumes a pending conflict with the given action.
// Rename and Cancel discard it immediately; Replace and Reuse run the
// store teardown in the background and create the instance on success.
func (o *Orchestrator) ResolveConflict(ctx context.Context, name string, action domain.Resolution) error {
	if !action.Valid() {
		return fmt.Errorf("unknown resolution %q", action)
	}
	return o.do(ctx, func() error {
		p, ok := o.pending[name]
		if !ok {
			return domain.ErrNoConflictPending
		}
		if p.Phase == conflictFailed {
			// Only dismissal makes sense for a failed create.
			switch action {
			case domain.ResolutionRename, domain.ResolutionCancel:
				delete(o.pending, name)
				return nil
			}
			return domain.ErrNoConflictPending
		}
		if p.Phase != conflictAwaiting {
			return domain.ErrInstanceBusy
		}
		switch action {
		case domain.ResolutionRename, domain.ResolutionCancel:
			delete(o.pending, name)
			return nil
		}
		p.Phase = conflictResolving
		p.Action = action
		o.dispatchResolve(p)
		return nil
	})
}

func (o *Orchestrator) StartInstance(ctx context.Context, name string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.busy() {
			return domain.ErrInstanceBusy
		}
		if s.state == domain.StateRunning {
			return nil
		}
		s.state = domain.StateStarting
		s.detail = ""
		s.status = nil
		o.dispatchStart(s)
		return nil
	})
}

// StopInstance stops a running instance. A probe in flight is cancelled
// first so a stopped instance can never be resurrected into Running.
// Stop during Starting is refused; the start must settle first.
func (o *Orchestrator) StopInstance(ctx context.Context, name string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.busyOp != "" {
			return domain.ErrInstanceBusy
		}
		switch s.state {
		case domain.StateStopped:
			return nil
		case domain.StateStarting, domain.StatePulling, domain.StateStopping:
			return domain.ErrInstanceBusy
		case domain.StateInitializing:
			if s.probeCancel != nil {
				s.probeCancel()
				s.probeCancel = nil
			}
		}
		s.state = domain.StateStopping
		s.detail = ""
		o.dispatchStop(s)
		return nil
	})
}

// DeleteInstance removes the runtime entity and the registry record.
// The data directory is retained; removing it is a separate explicit
// action (conflict Replace on a future create, or manual cleanup).
func (o *Orchestrator) DeleteInstance(ctx context.Context, name string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.busy() {
			return domain.ErrInstanceBusy
		}
		if s.state != domain.StateStopped && s.state != domain.StateError {
			return domain.ErrInstanceNotStopped
		}
		s.busyOp = "delete"
		o.dispatchDelete(s)
		return nil
	})
}

// EditInstance stages a configuration change; it takes effect on next
// Start. Staging is accepted in any non-transitional state, including
// Running. When launch-affecting fields change, the cached container id
// is dropped so the entity is recreated instead of reused on that next
// Start; the running container is left alone until then.
func (o *Orchestrator) EditInstance(ctx context.Context, next *domain.InstanceConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	return o.do(ctx, func() error {
		s, err := o.instance(next.Name)
		if err != nil {
			return err
		}
		if s.busy() {
			return domain.ErrInstanceBusy
		}

		cur := s.cfg
		if next.RconPassword == "" {
			next.RconPassword = cur.RconPassword
		}
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = time.Now()
		next.ContainerID = cur.ContainerID
		if cur.LaunchFieldsChanged(next) {
			next.ContainerID = ""
		}

		if err := o.registry.Update(o.runCtx, next); err != nil {
			return err
		}
		s.cfg = next
		return nil
	})
}

// ClearError acknowledges an Error state back to Stopped.
func (o *Orchestrator) ClearError(ctx context.Context, name string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.state != domain.StateError {
			return fmt.Errorf("instance %s is not in error state", name)
		}
		s.state = domain.StateStopped
		s.detail = ""
		return nil
	})
}

func (o *Orchestrator) ListInstances(ctx context.Context) ([]InstanceView, error) {
	var views []InstanceView
	err := o.do(ctx, func() error {
		for _, s := range o.instances {
			views = append(views, viewOf(s))
		}
		return nil
	})
	return views, err
}

func (o *Orchestrator) GetInstance(ctx context.Context, name string) (InstanceView, error) {
	var view InstanceView
	err := o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		view = viewOf(s)
		return nil
	})
	return view, err
}

func (o *Orchestrator) Conflicts(ctx context.Context) ([]ConflictView, error) {
	var views []ConflictView
	err := o.do(ctx, func() error {
		for name, p := range o.pending {
			views = append(views, ConflictView{Name: name, Phase: p.Phase, Conflict: p.Conflict, Error: p.Detail})
		}
		return nil
	})
	return views, err
}

func (o *Orchestrator) CreateBackup(ctx context.Context, name string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.busy() {
			return domain.ErrInstanceBusy
		}
		if s.state != domain.StateStopped && s.state != domain.StateError {
			return domain.ErrInstanceNotStopped
		}
		s.busyOp = "backup"
		o.dispatchBackup(s)
		return nil
	})
}

func (o *Orchestrator) RestoreBackup(ctx context.Context, name, backupName string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.busy() {
			return domain.ErrInstanceBusy
		}
		if s.state != domain.StateStopped && s.state != domain.StateError {
			return domain.ErrInstanceNotStopped
		}
		s.busyOp = "restore"
		o.dispatchRestore(s, backupName)
		return nil
	})
}

// ListBackups resolves the backup directory on the control loop; the
// directory read itself happens on the caller's goroutine since it
// touches no orchestrator state.
func (o *Orchestrator) ListBackups(ctx context.Context, name string) ([]backup.Info, error) {
	var dir string
	err := o.do(ctx, func() error {
		if _, err := o.instance(name); err != nil {
			return err
		}
		dir = o.layout.BackupDir(name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.backups.List(dir)
}

func (o *Orchestrator) DeleteBackup(ctx context.Context, name, backupName string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		o.dispatchBackupDelete(s, backupName)
		return nil
	})
}

// SendCommand queues one admin command for a running instance. The
// response is applied to the instance's console history when it
// arrives; Console returns the history.
func (o *Orchestrator) SendCommand(ctx context.Context, name, command string) error {
	return o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		if s.state != domain.StateRunning {
			return fmt.Errorf("instance %s is not running", name)
		}
		if s.consoleBusy {
			return domain.ErrInstanceBusy
		}
		s.consoleBusy = true
		o.dispatchCommand(s, command)
		return nil
	})
}

func (o *Orchestrator) Console(ctx context.Context, name string) ([]ConsoleEntry, error) {
	var entries []ConsoleEntry
	err := o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		entries = append(entries, s.history...)
		return nil
	})
	return entries, err
}

// FetchLogs reads the last maxLines container log lines. The container
// id is resolved on the control loop; the log read itself happens on
// the caller's goroutine since it touches no orchestrator state.
func (o *Orchestrator) FetchLogs(ctx context.Context, name string, maxLines int) ([]string, error) {
	var id string
	err := o.do(ctx, func() error {
		s, err := o.instance(name)
		if err != nil {
			return err
		}
		id = s.cfg.ContainerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if id == "" {
		found := false
		id, found, err = o.runtime.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("instance %s has no container", name)
		}
	}
	return o.runtime.Logs(ctx, id, maxLines)
}

// SearchCatalog starts a pack search. Results land in the catalog view;
// a result from a superseded request is discarded.
func (o *Orchestrator) SearchCatalog(ctx context.Context, source, query string) error {
	client, ok := o.catalogs[source]
	if !ok {
		return fmt.Errorf("unknown catalog source %q", source)
	}
	return o.do(ctx, func() error {
		o.catview.RequestID++
		o.catview = CatalogView{
			RequestID: o.catview.RequestID,
			Source:    source,
			Query:     query,
			Loading:   true,
		}
		o.dispatchSearch(client, o.catview.RequestID, source, query)
		return nil
	})
}

// SelectPack starts a version lookup for one pack from the current
// search results.
func (o *Orchestrator) SelectPack(ctx context.Context, source, packID string) error {
	client, ok := o.catalogs[source]
	if !ok {
		return fmt.Errorf("unknown catalog source %q", source)
	}
	return o.do(ctx, func() error {
		o.catview.RequestID++
		o.catview.Source = source
		o.catview.Selected = packID
		o.catview.Versions = nil
		o.catview.Loading = true
		o.catview.Error = ""
		o.dispatchVersions(client, o.catview.RequestID, packID)
		return nil
	})
}

func (o *Orchestrator) Catalog(ctx context.Context) (CatalogView, error) {
	var view CatalogView
	err := o.do(ctx, func() error {
		view = o.catview
		return nil
	})
	return view, err
}

func (o *Orchestrator) instance(name string) (*instanceState, error) {
	s, ok := o.instances[name]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	return s, nil
}

// viewOf copies the config so a caller holding the view never observes
// control-loop mutations mid-read.
func viewOf(s *instanceState) InstanceView {
	cfg := *s.cfg
	return InstanceView{
		Config: &cfg,
		State:  s.state,
		Detail: s.detail,
		Status: s.status,
	}
}
