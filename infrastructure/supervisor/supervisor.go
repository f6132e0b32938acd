package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashfleet/wagateway/config"
	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
	"github.com/hashfleet/wagateway/pkg/utils"
	"github.com/hashfleet/wagateway/ui/websocket"
)

// WorkerProcess is the in-memory handle for one running worker.
type WorkerProcess struct {
	PID          int       `json:"pid"`
	InstanceHash string    `json:"instanceHash"`
	Port         int       `json:"port"`
	StartedAt    time.Time `json:"startedAt"`
	SessionPath  string    `json:"sessionPath"`
	State        string    `json:"state"` // running | stopped

	cmd      *exec.Cmd
	adopted  bool
	waitDone chan struct{}
	mirror   *Mirror
}

// Supervisor owns the lifecycle of every worker process referenced by the
// store. Operations on a single hash are serialized by a per-hash lock;
// different hashes proceed independently.
type Supervisor struct {
	cfg   *config.Config
	store device.IDeviceStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	procsMu sync.RWMutex
	procs   map[string]*WorkerProcess

	stopHealth chan struct{}
	healthDone sync.WaitGroup
	healthOnce sync.Once
}

func NewSupervisor(cfg *config.Config, store device.IDeviceStore) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		store:      store,
		locks:      make(map[string]*sync.Mutex),
		procs:      make(map[string]*WorkerProcess),
		stopHealth: make(chan struct{}),
	}
}

func (s *Supervisor) lockFor(hash string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if l, ok := s.locks[hash]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[hash] = l
	return l
}

// Start spawns a worker for the instance. It fails when the instance is
// missing, has no port, or already has a live process.
func (s *Supervisor) Start(ctx context.Context, hash string) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	dev, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	if dev == nil {
		return pkgError.InstanceNotFoundError("device not found: " + hash)
	}
	if dev.Port <= 0 {
		return pkgError.ContainerError("instance has no allocated port: " + hash)
	}
	if proc := s.get(hash); proc != nil && s.alive(proc) {
		return pkgError.ValidationError("worker process already exists for instance " + hash)
	}

	sessionPath := s.cfg.SessionPath(hash)
	if err := utils.CreateFolder(sessionPath); err != nil {
		return s.failStart(ctx, hash, err)
	}

	cmd := exec.Command(s.cfg.Paths.BinPath, "rest")
	cmd.Dir = sessionPath
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("APP_PORT=%d", dev.Port),
		fmt.Sprintf("APP_BASIC_AUTH=%s:%s", s.cfg.App.DefaultAdminUser, s.cfg.App.DefaultAdminPass),
		"APP_DEBUG=true",
		fmt.Sprintf("APP_OS=%s", s.cfg.App.OS),
		"APP_ACCOUNT_VALIDATION=false",
		fmt.Sprintf("DB_URI=file:%s/whatsapp.db?_foreign_keys=on", sessionPath),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failStart(ctx, hash, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failStart(ctx, hash, err)
	}

	if err := cmd.Start(); err != nil {
		return s.failStart(ctx, hash, err)
	}

	proc := &WorkerProcess{
		PID:          cmd.Process.Pid,
		InstanceHash: hash,
		Port:         dev.Port,
		StartedAt:    time.Now().UTC(),
		SessionPath:  sessionPath,
		State:        "running",
		cmd:          cmd,
		waitDone:     make(chan struct{}),
	}

	go s.forwardLogs(hash, "stdout", stdout)
	go s.forwardLogs(hash, "stderr", stderr)
	go func() {
		_ = cmd.Wait()
		close(proc.waitDone)
	}()

	s.put(proc)

	containerID := strconv.Itoa(proc.PID)
	status := device.StatusActive
	if _, err := s.store.Update(ctx, hash, device.UpdateFields{
		Status:      &status,
		ContainerID: &containerID,
	}); err != nil {
		logrus.WithError(err).Errorf("[SUPERVISOR] Failed to persist spawn of %s", hash)
	}

	logrus.Infof("[SUPERVISOR] Started worker for %s (pid=%d port=%d)", hash, proc.PID, proc.Port)

	// The worker's event channel takes a few seconds to come up.
	time.AfterFunc(s.cfg.Supervisor.MirrorConnectDelay, func() {
		s.connectMirror(proc)
	})

	return nil
}

func (s *Supervisor) failStart(ctx context.Context, hash string, cause error) error {
	status := device.StatusError
	if _, err := s.store.Update(ctx, hash, device.UpdateFields{Status: &status}); err != nil {
		logrus.WithError(err).Errorf("[SUPERVISOR] Failed to mark %s as error", hash)
	}
	return pkgError.ContainerError(fmt.Sprintf("failed to spawn worker for %s: %v", hash, cause))
}

// Stop terminates the instance's worker: graceful signal first, SIGKILL
// after timeout. Stopping an already-stopped instance is a no-op. The port
// stays allocated; only removal releases it.
func (s *Supervisor) Stop(ctx context.Context, hash string, timeout time.Duration) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.Supervisor.StopTimeout
	}

	proc := s.get(hash)
	if proc == nil {
		// Already stopped; keep the persisted status consistent.
		s.setStatus(ctx, hash, device.StatusStopped, true)
		return nil
	}

	if proc.mirror != nil {
		proc.mirror.Close()
		proc.mirror = nil
	}

	if err := s.terminate(proc, timeout); err != nil {
		s.setStatus(ctx, hash, device.StatusError, false)
		return pkgError.ContainerError(fmt.Sprintf("failed to stop worker for %s: %v", hash, err))
	}

	proc.State = "stopped"
	s.drop(hash)
	s.setStatus(ctx, hash, device.StatusStopped, true)
	logrus.Infof("[SUPERVISOR] Stopped worker for %s (pid=%d)", hash, proc.PID)
	return nil
}

// terminate delivers SIGTERM, waits up to timeout, then escalates to
// SIGKILL and waits again briefly.
func (s *Supervisor) terminate(proc *WorkerProcess, timeout time.Duration) error {
	if !s.alive(proc) {
		return nil
	}

	_ = syscall.Kill(proc.PID, syscall.SIGTERM)
	if s.waitExit(proc, timeout) {
		return nil
	}

	logrus.Warnf("[SUPERVISOR] Worker %s ignored SIGTERM, escalating to SIGKILL", proc.InstanceHash)
	_ = syscall.Kill(proc.PID, syscall.SIGKILL)
	if s.waitExit(proc, 5*time.Second) {
		return nil
	}
	return fmt.Errorf("process %d did not exit after SIGKILL", proc.PID)
}

func (s *Supervisor) waitExit(proc *WorkerProcess, timeout time.Duration) bool {
	if proc.waitDone != nil {
		select {
		case <-proc.waitDone:
			return true
		case <-time.After(timeout):
			return false
		}
	}

	// Adopted processes are not our children; poll instead of Wait.
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pidAlive(proc.PID) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !pidAlive(proc.PID)
}

// Restart is stop followed by start under the same per-hash lock domain.
func (s *Supervisor) Restart(ctx context.Context, hash string) error {
	if err := s.Stop(ctx, hash, 0); err != nil {
		return err
	}
	return s.Start(ctx, hash)
}

// ListAll snapshots the live handles.
func (s *Supervisor) ListAll() []WorkerProcess {
	s.procsMu.RLock()
	defer s.procsMu.RUnlock()
	out := make([]WorkerProcess, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, *p)
	}
	return out
}

// IsRunning reports whether the instance has a live tracked worker.
func (s *Supervisor) IsRunning(hash string) bool {
	proc := s.get(hash)
	return proc != nil && s.alive(proc)
}

// RecoverAll re-establishes workers after a gateway restart: adopt PIDs that
// survived, respawn instances with an on-disk session, mark the rest stopped.
func (s *Supervisor) RecoverAll(ctx context.Context) {
	devices, err := s.store.List(ctx, device.ListFilter{})
	if err != nil {
		logrus.WithError(err).Error("[SUPERVISOR] Recovery listing failed")
		return
	}

	for _, dev := range devices {
		if pid, err := strconv.Atoi(dev.ContainerID); err == nil && pid > 0 && pidAlive(pid) {
			s.put(&WorkerProcess{
				PID:          pid,
				InstanceHash: dev.Hash,
				Port:         dev.Port,
				StartedAt:    time.Now().UTC(),
				SessionPath:  s.cfg.SessionPath(dev.Hash),
				State:        "running",
				adopted:      true,
			})
			logrus.Infof("[SUPERVISOR] Adopted surviving worker for %s (pid=%d)", dev.Hash, pid)
			continue
		}

		sessionDB := filepath.Join(s.cfg.SessionPath(dev.Hash), "whatsapp.db")
		if _, err := os.Stat(sessionDB); err == nil {
			logrus.Infof("[SUPERVISOR] Restoring previously active instance %s", dev.Hash)
			if err := s.Start(ctx, dev.Hash); err != nil {
				logrus.WithError(err).Errorf("[SUPERVISOR] Recovery start failed for %s", dev.Hash)
			}
			continue
		}

		empty := ""
		status := device.StatusStopped
		if _, err := s.store.Update(ctx, dev.Hash, device.UpdateFields{
			Status:      &status,
			ContainerID: &empty,
		}); err != nil {
			logrus.WithError(err).Errorf("[SUPERVISOR] Recovery update failed for %s", dev.Hash)
		}
	}
}

// StartHealthLoop watches tracked workers and reacts when one dies outside
// our control. Dead workers are marked error; no automatic restart here.
func (s *Supervisor) StartHealthLoop(ctx context.Context) {
	s.healthDone.Add(1)
	go func() {
		defer s.healthDone.Done()
		ticker := time.NewTicker(s.cfg.Supervisor.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopHealth:
				return
			case <-ticker.C:
				s.checkWorkers(ctx)
			}
		}
	}()
	logrus.Infof("[SUPERVISOR] Health checks every %s", s.cfg.Supervisor.HealthCheckInterval)
}

func (s *Supervisor) checkWorkers(ctx context.Context) {
	for _, proc := range s.ListAll() {
		p := s.get(proc.InstanceHash)
		if p == nil || s.alive(p) {
			continue
		}

		logrus.Warnf("[SUPERVISOR] Worker for %s (pid=%d) died unexpectedly", p.InstanceHash, p.PID)
		if p.mirror != nil {
			p.mirror.Close()
		}
		s.drop(p.InstanceHash)
		s.setStatus(ctx, p.InstanceHash, device.StatusError, false)

		websocket.Publish(p.InstanceHash, websocket.EventEnvelope{
			Type:        "process-stopped",
			PhoneNumber: p.InstanceHash,
			Port:        p.Port,
		})
	}
}

// StopHealthLoop halts the health ticker. Safe to call more than once.
func (s *Supervisor) StopHealthLoop() {
	s.healthOnce.Do(func() {
		close(s.stopHealth)
	})
	s.healthDone.Wait()
}

// StopAll shuts every tracked worker down with the default timeout.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, proc := range s.ListAll() {
		if err := s.Stop(ctx, proc.InstanceHash, 0); err != nil {
			logrus.WithError(err).Errorf("[SUPERVISOR] Shutdown stop failed for %s", proc.InstanceHash)
		}
	}
}

func (s *Supervisor) connectMirror(proc *WorkerProcess) {
	lock := s.lockFor(proc.InstanceHash)
	lock.Lock()
	defer lock.Unlock()

	current := s.get(proc.InstanceHash)
	if current == nil || current.PID != proc.PID {
		return // worker already gone
	}

	mirror, err := DialMirror(proc.InstanceHash, proc.Port, s.cfg.App.DefaultAdminUser, s.cfg.App.DefaultAdminPass)
	if err != nil {
		logrus.WithError(err).Warnf("[SUPERVISOR] Worker WS mirror failed for %s", proc.InstanceHash)
		return
	}
	current.mirror = mirror
}

func (s *Supervisor) forwardLogs(hash, stream string, r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logrus.WithField("instance", hash).Debugf("[WORKER:%s] %s", stream, scanner.Text())
	}
}

func (s *Supervisor) setStatus(ctx context.Context, hash string, status device.Status, clearContainer bool) {
	fields := device.UpdateFields{Status: &status}
	if clearContainer {
		empty := ""
		fields.ContainerID = &empty
	}
	if _, err := s.store.Update(ctx, hash, fields); err != nil {
		logrus.WithError(err).Errorf("[SUPERVISOR] Failed to set %s status to %s", hash, status)
	}
}

func (s *Supervisor) alive(proc *WorkerProcess) bool {
	if proc.waitDone != nil {
		select {
		case <-proc.waitDone:
			return false
		default:
			return true
		}
	}
	return pidAlive(proc.PID)
}

func (s *Supervisor) get(hash string) *WorkerProcess {
	s.procsMu.RLock()
	defer s.procsMu.RUnlock()
	return s.procs[hash]
}

func (s *Supervisor) put(proc *WorkerProcess) {
	s.procsMu.Lock()
	s.procs[proc.InstanceHash] = proc
	s.procsMu.Unlock()
}

func (s *Supervisor) drop(hash string) {
	s.procsMu.Lock()
	delete(s.procs, hash)
	s.procsMu.Unlock()
}

// pidAlive probes a pid with signal 0. EPERM still means the process exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
