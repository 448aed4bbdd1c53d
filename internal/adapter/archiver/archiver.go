package archiver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/service/har"
)

const (
	indexFileName  = "_index"
	partFilePrefix = "part-"
)

// FileSystem is the filesystem surface archive building needs.
type FileSystem interface {
	ReadDir(path string) ([]*entity.FileSnapshot, error)
	Open(path string) (afero.File, error)
	Create(path string) (afero.File, error)
	MkdirAll(path string) error
	SetReplication(path string, replication int) (bool, error)
}

// Builder is the built-in archiving tool: it bundles a parity directory's
// direct files into part files plus an index, mimicking the archive layout
// downstream consumers expect. It reports an exit code like the external
// tool it stands in for.
type Builder struct {
	fs  FileSystem
	log *slog.Logger
}

func New(fs FileSystem, log *slog.Logger) *Builder {
	return &Builder{
		fs:  fs,
		log: log.With(slog.String("item", "Archiver")),
	}
}

func (b *Builder) Archive(ctx context.Context, req har.ArchiveRequest) (int, error) {
	root := filepath.Join(req.TmpDir, req.ArchiveName)
	if err := b.fs.MkdirAll(root); err != nil {
		return 1, err
	}

	entries, err := b.fs.ReadDir(req.SrcDir)
	if err != nil {
		return 1, err
	}

	var index strings.Builder

	partNum := 0
	var partSize int64
	part, err := b.newPart(root, partNum, req.Replication)
	if err != nil {
		return 1, err
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			part.Close()

			return 1, ctx.Err()
		default:
		}

		if entry.IsDir {
			continue
		}

		if req.PartfileSize > 0 && partSize >= req.PartfileSize {
			if err := part.Close(); err != nil {
				return 1, err
			}
			partNum++
			partSize = 0
			if part, err = b.newPart(root, partNum, req.Replication); err != nil {
				return 1, err
			}
		}

		in, err := b.fs.Open(entry.Path)
		if err != nil {
			part.Close()

			return 1, err
		}

		n, err := io.Copy(part, in)
		in.Close()
		if err != nil {
			part.Close()

			return 1, fmt.Errorf("cannot copy %s into archive: %w", entry.Path, err)
		}

		fmt.Fprintf(&index, "%s %s%d %d %d\n",
			filepath.Base(entry.Path), partFilePrefix, partNum, partSize, n)
		partSize += n
	}

	if err := part.Close(); err != nil {
		return 1, err
	}

	idx, err := b.fs.Create(filepath.Join(root, indexFileName))
	if err != nil {
		return 1, err
	}
	if _, err := idx.WriteString(index.String()); err != nil {
		idx.Close()

		return 1, err
	}
	if err := idx.Close(); err != nil {
		return 1, err
	}

	b.log.Info("Built archive", slog.String("path", root), slog.Int("parts", partNum+1))

	return 0, nil
}

func (b *Builder) newPart(root string, num, replication int) (afero.File, error) {
	path := filepath.Join(root, fmt.Sprintf("%s%d", partFilePrefix, num))

	f, err := b.fs.Create(path)
	if err != nil {
		return nil, err
	}

	if _, err := b.fs.SetReplication(path, replication); err != nil {
		f.Close()

		return nil, err
	}

	return f, nil
}
