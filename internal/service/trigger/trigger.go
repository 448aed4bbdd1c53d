package trigger

import (
	"bufio"
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/storage/traversal"
)

const (
	serviceName = "trigger"
)

// PolicyCatalog is the wholesale-replaced policy list.
type PolicyCatalog interface {
	Policies() []*entity.Policy
	ReloadIfNecessary() (bool, error)
}

// Raider executes raid batches asynchronously and reports in-flight jobs
// per policy.
type Raider interface {
	Submit(ctx context.Context, policy *entity.Policy, files []*entity.FileSnapshot)
	RunningJobs(policyName string) int
}

// FileSystem is the filesystem surface the trigger loop needs: resolving
// file-list lines and opening the list itself.
type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	Open(path string) (afero.File, error)
}

// TraversalFactory starts a fresh resumable traversal for a policy. It is
// seeded with all current policies so the walk can skip paths claimed by
// other policies.
type TraversalFactory func(policy *entity.Policy, all []*entity.Policy) *traversal.Traversal

type Config struct {
	SleepInterval    time.Duration
	Periodicity      time.Duration
	MaxJobsPerPolicy int
	MaxFilesPerJob   int
}

// Monitor periodically checks which policies should fire. One instance owns
// all per-policy scan state; no other loop touches it.
type Monitor struct {
	catalog      PolicyCatalog
	raider       Raider
	fs           FileSystem
	newTraversal TraversalFactory
	cfg          Config

	states map[string]*policyState

	log *slog.Logger
}

// policyState tracks the in-flight scan of one policy. A policy has at most
// one of pendingTraversal or fileListReader at any time.
type policyState struct {
	startTime        time.Time
	pendingTraversal *traversal.Traversal
	fileListReader   *fileListReader
}

type fileListReader struct {
	f       afero.File
	scanner *bufio.Scanner
}

func (s *policyState) isScanInProgress() bool {
	return s.pendingTraversal != nil
}

func (s *policyState) resetTraversal() {
	if s.pendingTraversal != nil {
		s.pendingTraversal.Stop()
		s.pendingTraversal = nil
	}
}

func (s *policyState) isFileListReadInProgress() bool {
	return s.fileListReader != nil
}

func (s *policyState) resetFileListRead() {
	if s.fileListReader != nil {
		s.fileListReader.f.Close()
		s.fileListReader = nil
	}
}

func NewMonitor(catalog PolicyCatalog, raider Raider, fs FileSystem, newTraversal TraversalFactory, cfg Config, log *slog.Logger) *Monitor {
	return &Monitor{
		catalog:      catalog,
		raider:       raider,
		fs:           fs,
		newTraversal: newTraversal,
		cfg:          cfg,
		states:       make(map[string]*policyState),
		log:          log.With(slog.String("service", serviceName)),
	}
}

// Run sweeps the policies until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.log.Info("Leaving trigger loop")

			return
		case <-time.After(m.cfg.SleepInterval):
		}

		if _, err := m.catalog.ReloadIfNecessary(); err != nil {
			m.log.Error("Cannot reload policies", slog.Any("error", err))
		}

		m.Sweep(ctx)
	}
}

// Sweep evaluates every policy once. A failure on one policy is logged and
// the sweep continues with the next.
func (m *Monitor) Sweep(ctx context.Context) {
	policies := m.catalog.Policies()
	m.log.Debug("Sweep", slog.Int("policies", len(policies)))

	for _, policy := range policies {
		state, exists := m.states[policy.Name]
		if !exists {
			state = &policyState{}
			m.states[policy.Name] = state
		}

		var batch []*entity.FileSnapshot
		switch {
		case m.shouldReadFileList(policy, state):
			batch = m.readFileList(policy, state)
		case m.shouldSelectFiles(policy, state):
			m.log.Info("Triggering policy filter", slog.String("policy", policy.Name))
			batch = m.selectFiles(policy, state, policies)
		default:
			continue
		}

		if len(batch) == 0 {
			m.log.Info("No filtered paths for policy", slog.String("policy", policy.Name))

			continue
		}

		m.log.Info("Triggering policy action", slog.String("policy", policy.Name),
			slog.Int("files", len(batch)))
		m.raider.Submit(ctx, policy, batch)
	}
}

func (m *Monitor) shouldReadFileList(policy *entity.Policy, state *policyState) bool {
	if policy.FileListPath == "" || !policy.ShouldRaid {
		return false
	}

	if state.isFileListReadInProgress() {
		// While a read is in progress the policy may run up to
		// MaxJobsPerPolicy jobs.
		return m.raider.RunningJobs(policy.Name) < m.cfg.MaxJobsPerPolicy
	}

	return time.Since(state.startTime) > m.cfg.Periodicity
}

func (m *Monitor) shouldSelectFiles(policy *entity.Policy, state *policyState) bool {
	if policy.FileListPath != "" || !policy.ShouldRaid {
		return false
	}

	if state.isScanInProgress() {
		return m.raider.RunningJobs(policy.Name) < m.cfg.MaxJobsPerPolicy
	}

	return time.Since(state.startTime) > m.cfg.Periodicity
}

// selectFiles pulls up to MaxFilesPerJob candidates from the policy's
// traversal, starting a fresh one when none is pending. Hitting the cap
// leaves the traversal pending for the next sweep; exhausting it clears
// the state.
func (m *Monitor) selectFiles(policy *entity.Policy, state *policyState, all []*entity.Policy) []*entity.FileSnapshot {
	var t *traversal.Traversal
	if state.isScanInProgress() {
		m.log.Info("Resuming traversal", slog.String("policy", policy.Name))
		t = state.pendingTraversal
	} else {
		m.log.Info("Starting new traversal", slog.String("policy", policy.Name))
		state.startTime = time.Now()
		t = m.newTraversal(policy, all)
		state.pendingTraversal = t
	}

	batch := make([]*entity.FileSnapshot, 0, m.cfg.MaxFilesPerJob)
	for snap := t.Next(); snap != nil; snap = t.Next() {
		batch = append(batch, snap)
		if len(batch) == m.cfg.MaxFilesPerJob {
			return batch
		}
	}

	state.pendingTraversal = nil

	return batch
}

// readFileList resolves up to MaxFilesPerJob lines of the policy's file
// list. Open failure degrades to an empty batch; a failure mid-read aborts
// the read but keeps what was already resolved.
func (m *Monitor) readFileList(policy *entity.Policy, state *policyState) []*entity.FileSnapshot {
	batch := make([]*entity.FileSnapshot, 0, m.cfg.MaxFilesPerJob)

	if !state.isFileListReadInProgress() {
		state.startTime = time.Now()
		f, err := m.fs.Open(policy.FileListPath)
		if err != nil {
			m.log.Warn("Cannot open file list", slog.String("policy", policy.Name),
				slog.String("path", policy.FileListPath), slog.Any("error", err))

			return batch
		}
		state.fileListReader = &fileListReader{f: f, scanner: bufio.NewScanner(f)}
	}

	r := state.fileListReader
	for r.scanner.Scan() {
		path := r.scanner.Text()
		if path == "" {
			continue
		}

		snap, err := m.fs.Stat(path)
		if err != nil {
			m.log.Error("Encountered error in file list read", slog.String("policy", policy.Name),
				slog.String("path", path), slog.Any("error", err))
			state.resetFileListRead()

			return batch
		}

		batch = append(batch, snap)
		if len(batch) >= m.cfg.MaxFilesPerJob {
			return batch
		}
	}

	if err := r.scanner.Err(); err != nil {
		m.log.Error("Encountered error in file list read", slog.String("policy", policy.Name),
			slog.Any("error", err))
	}
	state.resetFileListRead()

	return batch
}

func (m *Monitor) stopAll() {
	for _, state := range m.states {
		state.resetTraversal()
		state.resetFileListRead()
	}
}
