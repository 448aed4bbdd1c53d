package har

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/storage/parity"
)

const (
	serviceName = "har"
)

// FileSystem is the filesystem surface the consolidator needs.
type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	ReadDir(path string) ([]*entity.FileSnapshot, error)
	Exists(path string) (bool, error)
	Rename(oldPath, newPath string) error
	RemoveAll(path string) error
}

type ParityResolver interface {
	Resolve(codec *entity.Codec, srcPath string) (*entity.ParityAssociation, error)
}

type CodecRegistry interface {
	All() []*entity.Codec
}

// ArchiveRequest describes one archive build handed to the external
// archiving tool.
type ArchiveRequest struct {
	ArchiveName  string // temporary archive name, created under TmpDir
	SrcDir       string // parity directory being bundled
	TmpDir       string // codec's temporary har directory
	BlockSize    int64
	Replication  int
	PartfileSize int64
}

// Archiver is the opaque external archiving step: run with these arguments,
// get an exit code back.
type Archiver interface {
	Archive(ctx context.Context, req ArchiveRequest) (int, error)
}

type Config struct {
	ThresholdDays int
	PartfileSize  int64
	Periodicity   time.Duration
	SleepInterval time.Duration
}

// Monitor consolidates cold, complete parity subtrees into archives, one
// sweep per periodicity, codecs in priority order.
type Monitor struct {
	fs       FileSystem
	codecs   CodecRegistry
	resolver ParityResolver
	archiver Archiver
	cfg      Config

	log *slog.Logger
}

func NewMonitor(fs FileSystem, codecs CodecRegistry, resolver ParityResolver, archiver Archiver, cfg Config, log *slog.Logger) *Monitor {
	return &Monitor{
		fs:       fs,
		codecs:   codecs,
		resolver: resolver,
		archiver: archiver,
		cfg:      cfg,
		log:      log.With(slog.String("service", serviceName)),
	}
}

// Run archives parity directories until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var prevExec time.Time

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Leaving har loop")

			return
		default:
		}

		for time.Since(prevExec) < m.cfg.Periodicity {
			select {
			case <-ctx.Done():
				m.log.Info("Leaving har loop")

				return
			case <-time.After(m.cfg.SleepInterval):
			}
		}

		m.log.Info("Started archive scan")
		prevExec = time.Now()
		m.Sweep(ctx)
	}
}

// Sweep walks every codec's parity root once.
func (m *Monitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(m.cfg.ThresholdDays) * 24 * time.Hour)

	for _, codec := range m.codecs.All() {
		root, err := m.fs.Stat(codec.ParityDir)
		if err != nil {
			if errors.Is(err, common.ErrFileNotFound) {
				continue
			}
			m.log.Error("Cannot stat parity root", slog.String("codec", codec.ID), slog.Any("error", err))

			continue
		}

		m.log.Info("Archiving parity files", slog.String("dir", codec.ParityDir))
		if err := m.recurseHar(ctx, codec, root, codec.ParityDir, cutoff); err != nil {
			m.log.Warn("Ignoring error while archiving", slog.String("codec", codec.ID), slog.Any("error", err))
		}
	}
}

func (m *Monitor) recurseHar(ctx context.Context, codec *entity.Codec, dir *entity.FileSnapshot, destPrefix string, cutoff time.Time) error {
	if !dir.IsDir {
		return nil
	}

	// Never archive an archive.
	if strings.HasSuffix(dir.Path, ".har") {
		return nil
	}

	// A sibling archive for this directory already exists.
	exists, err := m.fs.Exists(filepath.Join(dir.Path, filepath.Base(dir.Path)+parity.HarSuffix))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	entries, err := m.fs.ReadDir(dir.Path)
	if err != nil {
		return err
	}

	// Candidate only while it is a leaf of uniformly old files sharing one
	// block size and one replication factor. Subdirectories are evaluated
	// on their own and disqualify the parent.
	shouldHar := len(entries) > 0
	var (
		harBlockSize   int64 = -1
		harReplication       = -1
	)

	for _, entry := range entries {
		switch {
		case entry.IsDir:
			if err := m.recurseHar(ctx, codec, entry, destPrefix, cutoff); err != nil {
				m.log.Warn("Cannot archive subdirectory", slog.String("path", entry.Path), slog.Any("error", err))
			}
			shouldHar = false
		case entry.ModTime.After(cutoff):
			if shouldHar {
				m.log.Debug("Cannot archive directory, file modified after cutoff",
					slog.String("dir", dir.Path), slog.String("path", entry.Path))
			}
			shouldHar = false
		default:
			if harBlockSize == -1 {
				harBlockSize = entry.BlockSize
			} else if harBlockSize != entry.BlockSize {
				m.log.Info("Block size mismatch", slog.String("path", entry.Path),
					slog.Int64("block_size", entry.BlockSize), slog.Int64("expected", harBlockSize))
				shouldHar = false
			}

			if harReplication == -1 {
				harReplication = entry.Replication
			} else if harReplication != entry.Replication {
				m.log.Info("Replication mismatch", slog.String("path", entry.Path),
					slog.Int("replication", entry.Replication), slog.Int("expected", harReplication))
				shouldHar = false
			}
		}
	}

	if shouldHar {
		// The parity directory must be a complete mirror of the source
		// directory before it may be archived.
		srcDir := "/" + strings.TrimPrefix(strings.TrimPrefix(dir.Path, destPrefix), "/")
		srcEntries, err := m.fs.ReadDir(srcDir)
		if err != nil && !errors.Is(err, common.ErrFileNotFound) {
			return err
		}

		for _, src := range srcEntries {
			if _, err := m.resolver.Resolve(codec, src.Path); err != nil {
				m.log.Debug("Cannot archive directory, missing parity",
					slog.String("dir", dir.Path), slog.String("src", src.Path))
				shouldHar = false

				break
			}
		}
	}

	if shouldHar {
		m.log.Info("Archiving", slog.String("path", dir.Path), slog.String("tmp", codec.TmpHarDir))

		return m.singleHar(ctx, codec, dir, harBlockSize, harReplication)
	}

	return nil
}

func (m *Monitor) singleHar(ctx context.Context, codec *entity.Codec, dir *entity.FileSnapshot, blockSize int64, replication int) error {
	name := filepath.Base(dir.Path)
	harDst := name + parity.HarSuffix
	harSrc := fmt.Sprintf("%s-%d-%s", name, rand.Int63(), parity.HarSuffix)
	tmpHar := filepath.Join(codec.TmpHarDir, harSrc)

	// The temporary path is removed whatever the outcome.
	defer func() {
		if err := m.fs.RemoveAll(tmpHar); err != nil {
			m.log.Error("Cannot remove temporary archive", slog.String("path", tmpHar), slog.Any("error", err))
		}
	}()

	ret, err := m.archiver.Archive(ctx, ArchiveRequest{
		ArchiveName:  harSrc,
		SrcDir:       dir.Path,
		TmpDir:       codec.TmpHarDir,
		BlockSize:    blockSize,
		Replication:  replication,
		PartfileSize: m.cfg.PartfileSize,
	})
	if err != nil {
		return fmt.Errorf("error while creating archive %s: %w", harSrc, err)
	}
	if ret != 0 {
		return fmt.Errorf("error while creating archive %s: exit code %d", harSrc, ret)
	}

	if err := m.fs.Rename(tmpHar, filepath.Join(dir.Path, harDst)); err != nil {
		return fmt.Errorf("archive rename did not succeed from %s to %s: %w",
			tmpHar, filepath.Join(dir.Path, harDst), err)
	}

	return nil
}
