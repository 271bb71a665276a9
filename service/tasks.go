package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yamori310/craftdock/catalog"
	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/runtime"
	"github.com/yamori310/craftdock/task"
)

// Dispatch helpers run on the control loop and hand copies of the data
// they need to a background goroutine. Background tasks never touch
// orchestrator state; they only post messages.

func (o *Orchestrator) dispatchDetect(proposed *domain.InstanceConfig) {
	cfg := *proposed
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		c, err := o.conflicts.Detect(ctx, &cfg)
		post(detectResult{Name: cfg.Name, Conflict: c, Err: err})
	})
}

func (o *Orchestrator) dispatchResolve(p *pendingConflict) {
	c := *p.Conflict
	action := p.Action
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		err := o.conflicts.Resolve(ctx, &c, action)
		post(resolveResult{Name: c.Name, Action: action, Err: err})
	})
}

func (o *Orchestrator) dispatchStart(s *instanceState) {
	cfg := *s.cfg
	dataDir := o.layout.DataDir(cfg.Name)
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			post(startResult{Name: cfg.Name, Err: fmt.Errorf("failed to create data directory: %w", err)})
			return
		}

		id := cfg.ContainerID
		if id != "" {
			status, err := o.runtime.Inspect(ctx, id)
			if err != nil || status == runtime.StatusAbsent {
				id = ""
			}
		}
		if id == "" {
			// A leftover entity under our name belongs to an older
			// configuration; recreate rather than reuse.
			if existing, found, err := o.runtime.FindByName(ctx, cfg.Name); err == nil && found {
				if err := o.runtime.Remove(ctx, existing); err != nil {
					post(startResult{Name: cfg.Name, Err: err})
					return
				}
			}
			var err error
			id, err = o.runtime.Create(ctx, &cfg, dataDir, func(line string) {
				post(pullProgress{Name: cfg.Name, Line: line})
			})
			if err != nil {
				post(startResult{Name: cfg.Name, Err: err})
				return
			}
		}

		if err := o.runtime.Start(ctx, id); err != nil {
			post(startResult{Name: cfg.Name, ContainerID: id, Err: err})
			return
		}
		post(startResult{Name: cfg.Name, ContainerID: id})
	})
}

func (o *Orchestrator) dispatchProbe(s *instanceState) {
	cfg := *s.cfg
	addr := probeAddr(&cfg)
	id := cfg.ContainerID

	s.probeSeq++
	seq := s.probeSeq
	probeCtx, cancel := context.WithCancel(o.runCtx)
	s.probeCancel = cancel

	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		status, err := o.prober.WaitReady(probeCtx, addr, id)
		post(probeResult{Name: cfg.Name, Seq: seq, Status: status, Err: err})
	})
}

func (o *Orchestrator) dispatchStop(s *instanceState) {
	name := s.cfg.Name
	id := s.cfg.ContainerID
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		if id == "" {
			var found bool
			var err error
			id, found, err = o.runtime.FindByName(ctx, name)
			if err != nil {
				post(stopResult{Name: name, Err: err})
				return
			}
			if !found {
				post(stopResult{Name: name})
				return
			}
		}
		post(stopResult{Name: name, Err: o.runtime.Stop(ctx, id)})
	})
}

func (o *Orchestrator) dispatchDelete(s *instanceState) {
	name := s.cfg.Name
	id := s.cfg.ContainerID
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		if id == "" {
			found := false
			var err error
			id, found, err = o.runtime.FindByName(ctx, name)
			if err != nil {
				post(deleteResult{Name: name, Err: err})
				return
			}
			if !found {
				post(deleteResult{Name: name})
				return
			}
		}
		post(deleteResult{Name: name, ContainerID: id, Err: o.runtime.Remove(ctx, id)})
	})
}

func (o *Orchestrator) dispatchBackup(s *instanceState) {
	name := s.cfg.Name
	dataDir := o.layout.DataDir(name)
	backupDir := o.layout.BackupDir(name)
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		info, err := o.backups.Create(ctx, dataDir, backupDir, func(cur, total int, path string) {
			post(backupProgress{Name: name, Current: cur, Total: total, Path: path})
		})
		post(backupResult{Name: name, Info: info, Err: err})
	})
}

func (o *Orchestrator) dispatchRestore(s *instanceState, backupName string) {
	name := s.cfg.Name
	dataDir := o.layout.DataDir(name)
	backupDir := o.layout.BackupDir(name)
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		err := o.backups.Restore(ctx, dataDir, backupDir, backupName, func(cur, total int, path string) {
			post(backupProgress{Name: name, Current: cur, Total: total, Path: path})
		})
		post(restoreResult{Name: name, Backup: backupName, Err: err})
	})
}

func (o *Orchestrator) dispatchBackupDelete(s *instanceState, backupName string) {
	name := s.cfg.Name
	backupDir := o.layout.BackupDir(name)
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		post(backupDeleteResult{Name: name, Backup: backupName, Err: o.backups.Delete(ctx, backupDir, backupName)})
	})
}

func (o *Orchestrator) dispatchCommand(s *instanceState, command string) {
	name := s.cfg.Name
	addr := rconAddr(s.cfg)
	password := s.cfg.RconPassword
	conn := s.console
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		c := conn
		if c == nil {
			var err error
			c, err = o.dial(addr, password)
			if err != nil {
				post(commandResult{Name: name, Command: command, Err: err, Dead: true, At: time.Now()})
				return
			}
		}
		resp, err := c.Execute(command)
		// Any execute failure leaves the connection in an unknown
		// framing position; it is discarded, never retried in place.
		post(commandResult{
			Name:     name,
			Command:  command,
			Response: resp,
			Console:  c,
			Dead:     err != nil,
			Err:      err,
			At:       time.Now(),
		})
	})
}

func (o *Orchestrator) dispatchSearch(client catalog.Client, requestID uint64, source, query string) {
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		packs, err := client.Search(ctx, query)
		post(searchResult{RequestID: requestID, Source: source, Query: query, Packs: packs, Err: err})
	})
}

func (o *Orchestrator) dispatchVersions(client catalog.Client, requestID uint64, packID string) {
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		versions, err := client.ListVersions(ctx, packID)
		post(versionsResult{RequestID: requestID, PackID: packID, Versions: versions, Err: err})
	})
}

func (o *Orchestrator) dispatchInspect(s *instanceState) {
	if s.inspecting || s.cfg.ContainerID == "" {
		return
	}
	s.inspecting = true
	name := s.cfg.Name
	id := s.cfg.ContainerID
	o.coord.Dispatch(o.runCtx, func(ctx context.Context, post func(task.Message)) {
		status, err := o.runtime.Inspect(ctx, id)
		post(inspectResult{Name: name, Status: status, Err: err})
	})
}

// reconcile periodically compares the runtime's view of Running
// instances against orchestrator state so an out-of-band crash is
// noticed without waiting for user interaction.
func (o *Orchestrator) reconcile() {
	for _, s := range o.instances {
		if s.state == domain.StateRunning {
			o.dispatchInspect(s)
		}
	}
}

// ---- result application --------------------------------------------

func (o *Orchestrator) apply(msg task.Message) {
	switch m := msg.(type) {
	case detectResult:
		o.applyDetect(m)
	case resolveResult:
		o.applyResolve(m)
	case pullProgress:
		o.applyPullProgress(m)
	case startResult:
		o.applyStart(m)
	case probeResult:
		o.applyProbe(m)
	case stopResult:
		o.applyStop(m)
	case deleteResult:
		o.applyDelete(m)
	case backupProgress:
		o.applyBackupProgress(m)
	case backupResult:
		o.applyBackup(m)
	case restoreResult:
		o.applyRestore(m)
	case backupDeleteResult:
		if m.Err != nil {
			o.logger.Error("backup delete failed", "instance", m.Name, "backup", m.Backup, "error", m.Err)
		}
	case commandResult:
		o.applyCommand(m)
	case searchResult:
		o.applySearch(m)
	case versionsResult:
		o.applyVersions(m)
	case inspectResult:
		o.applyInspect(m)
	default:
		o.logger.Warn("unhandled task message", "type", fmt.Sprintf("%T", msg))
	}
}

func (o *Orchestrator) applyDetect(m detectResult) {
	p, ok := o.pending[m.Name]
	if !ok || p.Phase != conflictChecking {
		return
	}
	if m.Err != nil {
		// Terminal for this create; the entry stays visible so the
		// caller that got "checking" can observe the outcome.
		p.Phase = conflictFailed
		p.Detail = m.Err.Error()
		o.logger.Error("conflict detection failed", "instance", m.Name, "error", m.Err)
		return
	}
	if m.Conflict.Detected() {
		p.Phase = conflictAwaiting
		p.Conflict = m.Conflict
		o.logger.Info("name conflict detected", "instance", m.Name,
			"registry", m.Conflict.RegistryEntryExists,
			"runtime", m.Conflict.RuntimeEntryExists,
			"data_dir", m.Conflict.DataDirExists)
		return
	}
	o.finishCreate(m.Name, p)
}

func (o *Orchestrator) applyResolve(m resolveResult) {
	p, ok := o.pending[m.Name]
	if !ok || p.Phase != conflictResolving {
		return
	}
	if m.Err != nil {
		p.Phase = conflictAwaiting
		p.Detail = m.Err.Error()
		o.logger.Error("conflict resolution failed", "instance", m.Name, "action", m.Action, "error", m.Err)
		return
	}
	o.finishCreate(m.Name, p)
}

// finishCreate is the registry write that makes an instance visible. On
// failure the pending entry turns terminal instead of vanishing.
func (o *Orchestrator) finishCreate(name string, p *pendingConflict) {
	cfg := p.Proposed
	if err := o.registry.Create(o.runCtx, cfg); err != nil {
		p.Phase = conflictFailed
		p.Detail = err.Error()
		o.logger.Error("failed to persist instance", "instance", name, "error", err)
		return
	}
	delete(o.pending, name)
	o.instances[cfg.Name] = &instanceState{cfg: cfg, state: domain.StateStopped}
	o.logger.Info("instance created", "instance", cfg.Name)
}

func (o *Orchestrator) applyPullProgress(m pullProgress) {
	s, ok := o.instances[m.Name]
	if !ok || s.state != domain.StateStarting && s.state != domain.StatePulling {
		return
	}
	s.state = domain.StatePulling
	s.detail = m.Line
}

func (o *Orchestrator) applyStart(m startResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.state != domain.StateStarting && s.state != domain.StatePulling {
		return
	}
	if m.ContainerID != "" && m.ContainerID != s.cfg.ContainerID {
		s.cfg.ContainerID = m.ContainerID
		s.cfg.UpdatedAt = time.Now()
		if err := o.registry.Update(o.runCtx, s.cfg); err != nil {
			o.logger.Error("failed to persist container id", "instance", m.Name, "error", err)
		}
	}
	if m.Err != nil {
		s.state = domain.StateError
		s.detail = m.Err.Error()
		o.logger.Error("start failed", "instance", m.Name, "error", m.Err)
		return
	}
	s.state = domain.StateInitializing
	s.detail = ""
	o.dispatchProbe(s)
	o.logger.Info("container started", "instance", m.Name, "container_id", m.ContainerID)
}

func (o *Orchestrator) applyProbe(m probeResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.probeSeq != m.Seq || s.state != domain.StateInitializing {
		return
	}
	s.probeCancel = nil
	if errors.Is(m.Err, context.Canceled) {
		return
	}
	if m.Err != nil {
		s.state = domain.StateError
		s.detail = m.Err.Error()
		o.logger.Error("readiness probe failed", "instance", m.Name, "error", m.Err)
		return
	}
	s.state = domain.StateRunning
	s.detail = ""
	s.status = m.Status
	o.logger.Info("instance ready", "instance", m.Name,
		"version", m.Status.Version, "players_max", m.Status.MaxPlayers)
}

func (o *Orchestrator) applyStop(m stopResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.state != domain.StateStopping {
		return
	}
	if m.Err != nil {
		s.state = domain.StateError
		s.detail = m.Err.Error()
		o.logger.Error("stop failed", "instance", m.Name, "error", m.Err)
		return
	}
	s.state = domain.StateStopped
	s.detail = ""
	s.status = nil
	o.closeConsole(s)
	o.logger.Info("instance stopped", "instance", m.Name)
}

func (o *Orchestrator) applyDelete(m deleteResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.busyOp != "delete" {
		return
	}
	s.busyOp = ""
	if m.Err != nil {
		s.detail = m.Err.Error()
		o.logger.Error("delete failed", "instance", m.Name, "error", m.Err)
		return
	}
	if err := o.registry.Delete(o.runCtx, m.Name); err != nil && !errors.Is(err, domain.ErrInstanceNotFound) {
		s.detail = err.Error()
		o.logger.Error("failed to remove registry entry", "instance", m.Name, "error", err)
		return
	}
	o.closeConsole(s)
	delete(o.instances, m.Name)
	o.logger.Info("instance deleted", "instance", m.Name)
}

func (o *Orchestrator) applyBackupProgress(m backupProgress) {
	s, ok := o.instances[m.Name]
	if !ok || s.busyOp == "" {
		return
	}
	s.detail = fmt.Sprintf("%s %d/%d: %s", s.busyOp, m.Current, m.Total, m.Path)
}

func (o *Orchestrator) applyBackup(m backupResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.busyOp != "backup" {
		return
	}
	s.busyOp = ""
	if m.Err != nil {
		s.detail = m.Err.Error()
		o.logger.Error("backup failed", "instance", m.Name, "error", m.Err)
		return
	}
	s.detail = ""
	o.logger.Info("backup created", "instance", m.Name, "backup", m.Info.Name, "size_bytes", m.Info.SizeBytes)
}

func (o *Orchestrator) applyRestore(m restoreResult) {
	s, ok := o.instances[m.Name]
	if !ok || s.busyOp != "restore" {
		return
	}
	s.busyOp = ""
	if m.Err != nil {
		s.detail = m.Err.Error()
		o.logger.Error("restore failed", "instance", m.Name, "backup", m.Backup, "error", m.Err)
		return
	}
	s.detail = ""
	o.logger.Info("backup restored", "instance", m.Name, "backup", m.Backup)
}

func (o *Orchestrator) applyCommand(m commandResult) {
	s, ok := o.instances[m.Name]
	if !ok {
		if m.Console != nil {
			m.Console.Close()
		}
		return
	}
	s.consoleBusy = false

	if m.Dead {
		if m.Console != nil {
			m.Console.Close()
		}
		if s.console != nil {
			s.console.Close()
			s.console = nil
		}
	} else if m.Console != nil {
		if s.state == domain.StateRunning {
			s.console = m.Console
		} else {
			// The instance stopped while the command was in flight.
			m.Console.Close()
		}
	}

	entry := ConsoleEntry{Command: m.Command, Response: m.Response, At: m.At}
	if m.Err != nil {
		entry.Error = m.Err.Error()
		o.logger.Error("command failed", "instance", m.Name, "command", m.Command, "error", m.Err)
	}
	s.history = append(s.history, entry)
	if len(s.history) > consoleHistoryLimit {
		s.history = s.history[len(s.history)-consoleHistoryLimit:]
	}
}

func (o *Orchestrator) applySearch(m searchResult) {
	if m.RequestID != o.catview.RequestID {
		return
	}
	o.catview.Loading = false
	if m.Err != nil {
		o.catview.Error = m.Err.Error()
		return
	}
	o.catview.Packs = m.Packs
}

func (o *Orchestrator) applyVersions(m versionsResult) {
	if m.RequestID != o.catview.RequestID || m.PackID != o.catview.Selected {
		return
	}
	o.catview.Loading = false
	if m.Err != nil {
		o.catview.Error = m.Err.Error()
		return
	}
	o.catview.Versions = m.Versions
}

func (o *Orchestrator) applyInspect(m inspectResult) {
	s, ok := o.instances[m.Name]
	if !ok {
		return
	}
	s.inspecting = false
	if m.Err != nil {
		o.logger.Warn("container inspect failed", "instance", m.Name, "error", m.Err)
		return
	}
	switch {
	case s.state == domain.StateRunning && m.Status != runtime.StatusRunning:
		s.state = domain.StateError
		s.detail = "container exited unexpectedly"
		s.status = nil
		o.closeConsole(s)
		o.logger.Error("container exited unexpectedly", "instance", m.Name)
	case s.state == domain.StateStopped && m.Status == runtime.StatusRunning:
		// Found running at startup; adopt it rather than fight it.
		s.state = domain.StateRunning
		s.detail = ""
		o.logger.Info("adopted running container", "instance", m.Name)
	}
}

func (o *Orchestrator) closeConsole(s *instanceState) {
	if s.console != nil {
		s.console.Close()
		s.console = nil
	}
	s.consoleBusy = false
}
