package raid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/storage/parity"
)

const (
	serviceName = "raid"

	// Files with this many blocks or fewer are not worth raiding.
	minBlocksToRaid = 3

	statsLogInterval = 1000
)

// FileSystem is the filesystem surface the executor needs. Snapshots are
// re-fetched through it whenever freshness matters.
type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	SetReplication(path string, replication int) (bool, error)
	SetTimes(path string, mtime time.Time) error
}

// Encoder produces a parity file for a source file. The erasure-code
// mathematics live behind this interface.
type Encoder interface {
	Encode(ctx context.Context, codec *entity.Codec, srcPath, parityPath string, metaReplication int) error
}

type CodecRegistry interface {
	Get(id string) (*entity.Codec, error)
}

// Service raids batches of files on behalf of the trigger loop. Batches run
// as asynchronous jobs registered per policy so the trigger can enforce its
// per-policy concurrency cap through RunningJobs.
type Service struct {
	fs     FileSystem
	codecs CodecRegistry
	enc    Encoder
	stats  *entity.Statistics

	mu   sync.Mutex
	jobs map[string]int
	wg   sync.WaitGroup

	log *slog.Logger
}

func NewService(fs FileSystem, codecs CodecRegistry, enc Encoder, stats *entity.Statistics, log *slog.Logger) *Service {
	return &Service{
		fs:     fs,
		codecs: codecs,
		enc:    enc,
		stats:  stats,
		jobs:   make(map[string]int),
		log:    log.With(slog.String("service", serviceName)),
	}
}

// Submit schedules a batch of files for raiding under the given policy and
// returns immediately. The job stays counted against the policy until the
// whole batch has been processed.
func (s *Service) Submit(ctx context.Context, policy *entity.Policy, files []*entity.FileSnapshot) {
	jobID := uuid.NewString()

	s.mu.Lock()
	s.jobs[policy.Name]++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.jobs[policy.Name]--
			s.mu.Unlock()
		}()

		log := s.log.With(slog.String("job_id", jobID), slog.String("policy", policy.Name))
		log.Info("Raid job started", slog.Int("files", len(files)))

		if err := s.RaidFiles(ctx, policy, files); err != nil {
			log.Error("Raid job failed", slog.Any("error", err))

			return
		}

		log.Info("Raid job done")
	}()
}

// RunningJobs returns the number of in-flight raid jobs for a policy.
func (s *Service) RunningJobs(policyName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobs[policyName]
}

// Wait blocks until all submitted jobs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RaidFiles raids every file in the batch. A failure on one file is logged
// and the batch continues; the engine makes partial progress under
// sustained failure.
func (s *Service) RaidFiles(ctx context.Context, policy *entity.Policy, files []*entity.FileSnapshot) error {
	codec, err := s.codecs.Get(policy.CodecID)
	if err != nil {
		return fmt.Errorf("policy %s: %w", policy.Name, err)
	}

	for n, snap := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raided, err := s.RaidFile(ctx, policy, codec, snap.Path)
		if err != nil {
			s.log.Error("Cannot raid file", slog.String("policy", policy.Name),
				slog.String("path", snap.Path), slog.Any("error", err))

			continue
		}
		if !raided {
			s.log.Debug("File not raided", slog.String("path", snap.Path))
		}

		if n%statsLogInterval == 0 {
			s.log.Info("RAID statistics", slog.String("stats", s.stats.Snapshot().String()))
		}
	}

	s.log.Info("RAID statistics", slog.String("stats", s.stats.Snapshot().String()))

	return nil
}

// RaidFile raids one file. The returned bool reports whether the file ended
// up fully raided; (false, nil) means the file was skipped or the
// replication change was refused, neither of which is an error.
func (s *Service) RaidFile(ctx context.Context, policy *entity.Policy, codec *entity.Codec, path string) (bool, error) {
	// Re-fetch the snapshot: this is the point-in-time view that drives
	// encoding and the later consistency check.
	stat, err := s.fs.Stat(path)
	if err != nil {
		return false, err
	}

	if len(stat.Blocks) < minBlocksToRaid {
		return false, nil
	}

	var diskSpace int64
	for _, b := range stat.Blocks {
		diskSpace += b.Length * int64(stat.Replication)
	}
	s.stats.AddProcessed(int64(len(stat.Blocks)), diskSpace)

	if err := s.generateParityFile(ctx, stat, codec, policy.TargetReplication, policy.MetaReplication); err != nil {
		return false, err
	}

	if !policy.Simulate {
		ok, err := s.fs.SetReplication(path, policy.TargetReplication)
		if err != nil {
			return false, err
		}
		if !ok {
			// The filesystem refused the change; no space was saved for
			// this file, but the parity is in place.
			s.log.Info("Cannot reduce replication", slog.String("path", path),
				slog.Int("target", policy.TargetReplication))
			s.stats.AddRemaining(diskSpace)

			return false, nil
		}
	}

	var remaining int64
	for _, b := range stat.Blocks {
		remaining += b.Length * int64(policy.TargetReplication)
	}
	s.stats.AddRemaining(remaining)

	numMeta := numStripes(int64(len(stat.Blocks)), codec.StripeLength)
	s.stats.AddMeta(numMeta*int64(policy.MetaReplication),
		numMeta*int64(policy.MetaReplication)*stat.BlockSize)

	return true, nil
}

func (s *Service) generateParityFile(ctx context.Context, stat *entity.FileSnapshot, codec *entity.Codec, targetRepl, metaRepl int) error {
	parityPath := parity.Path(codec, stat.Path)

	// Already up to date and the source is at target replication: nothing
	// to do.
	if pstat, err := s.fs.Stat(parityPath); err == nil {
		if pstat.ModTime.Equal(stat.ModTime) && stat.Replication == targetRepl {
			s.log.Info("Parity file already up to date", slog.String("path", stat.Path),
				slog.String("parity", parityPath))

			return nil
		}
	}

	if err := s.enc.Encode(ctx, codec, stat.Path, parityPath, metaRepl); err != nil {
		return fmt.Errorf("cannot encode %s: %w", stat.Path, err)
	}

	// The parity mtime is pinned to the source mtime captured before
	// encoding, so a parity file always names the source version it covers.
	if err := s.fs.SetTimes(parityPath, stat.ModTime); err != nil {
		return err
	}

	inStat, err := s.fs.Stat(stat.Path)
	if err != nil {
		return err
	}
	outStat, err := s.fs.Stat(parityPath)
	if err != nil {
		return err
	}

	if !stat.ModTime.Equal(inStat.ModTime) {
		return fmt.Errorf("source %s changed mtime during raiding from %v to %v",
			stat.Path, stat.ModTime, inStat.ModTime)
	}
	if !outStat.ModTime.Equal(inStat.ModTime) {
		return fmt.Errorf("parity %s mtime %v does not match source mtime %v",
			parityPath, outStat.ModTime, inStat.ModTime)
	}

	s.log.Info("Generated parity file", slog.String("path", stat.Path),
		slog.String("parity", parityPath), slog.Int64("size", outStat.Length))

	return nil
}

// numStripes is ceil(numBlocks/stripeLength); an exact multiple must not
// add an extra stripe.
func numStripes(numBlocks int64, stripeLength int) int64 {
	n := numBlocks / int64(stripeLength)
	if numBlocks%int64(stripeLength) != 0 {
		n++
	}

	return n
}
