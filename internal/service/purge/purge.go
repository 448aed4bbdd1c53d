package purge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/storage/parity"
)

const (
	serviceName = "purge"
)

type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	ReadDir(path string) ([]*entity.FileSnapshot, error)
	Exists(path string) (bool, error)
	Remove(path string) error
}

type CodecRegistry interface {
	All() []*entity.Codec
}

// Monitor deletes parity files whose source file no longer exists. Archives
// and their part files are left alone.
type Monitor struct {
	fs       FileSystem
	codecs   CodecRegistry
	interval time.Duration

	log *slog.Logger
}

func NewMonitor(fs FileSystem, codecs CodecRegistry, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		fs:       fs,
		codecs:   codecs,
		interval: interval,
		log:      log.With(slog.String("service", serviceName)),
	}
}

func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Leaving purge loop")

			return
		case <-time.After(m.interval):
		}

		m.Sweep(ctx)
	}
}

// Sweep walks every codec's parity tree once.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, codec := range m.codecs.All() {
		if err := m.purgeDir(ctx, codec, codec.ParityDir); err != nil {
			m.log.Warn("Ignoring error while purging", slog.String("codec", codec.ID), slog.Any("error", err))
		}
	}
}

func (m *Monitor) purgeDir(ctx context.Context, codec *entity.Codec, dir string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := m.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, common.ErrFileNotFound) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if strings.HasSuffix(entry.Path, parity.HarSuffix) || parity.IsHarPartFile(entry.Path) {
			continue
		}

		if entry.IsDir {
			if err := m.purgeDir(ctx, codec, entry.Path); err != nil {
				m.log.Warn("Cannot purge directory", slog.String("path", entry.Path), slog.Any("error", err))
			}

			continue
		}

		srcPath := "/" + strings.TrimPrefix(strings.TrimPrefix(entry.Path, codec.ParityDir), "/")
		exists, err := m.fs.Exists(srcPath)
		if err != nil {
			m.log.Error("Cannot check source file", slog.String("path", srcPath), slog.Any("error", err))

			continue
		}
		if exists {
			continue
		}

		m.log.Info("Purging obsolete parity file", slog.String("parity", entry.Path),
			slog.String("src", srcPath))
		if err := m.fs.Remove(entry.Path); err != nil {
			m.log.Error("Cannot remove parity file", slog.String("path", entry.Path), slog.Any("error", err))
		}
	}

	return nil
}
