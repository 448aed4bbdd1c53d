package recovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/util"
)

const (
	serviceName = "recovery"

	recoveredSuffix = ".recovered"
)

// FileSystem is the filesystem surface block recovery needs.
type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	Create(path string) (afero.File, error)
	Remove(path string) error
}

// ParityResolver maps a source file to its parity file.
type ParityResolver interface {
	Resolve(codec *entity.Codec, srcPath string) (*entity.ParityAssociation, error)
}

// Decoder reconstructs a byte range of a source file from parity plus
// surviving data. The erasure-code mathematics live behind this interface.
type Decoder interface {
	Decode(ctx context.Context, codec *entity.Codec, srcPath, parityPath string, blockSize, corruptOffset, limit int64, out io.Writer) error
}

type Service struct {
	fs           FileSystem
	resolver     ParityResolver
	dec          Decoder
	recoveryRoot string

	log *slog.Logger
}

func NewService(fs FileSystem, resolver ParityResolver, dec Decoder, recoveryRoot string, log *slog.Logger) *Service {
	return &Service{
		fs:           fs,
		resolver:     resolver,
		dec:          dec,
		recoveryRoot: recoveryRoot,
		log:          log.With(slog.String("service", serviceName)),
	}
}

// RecoverBlock reconstructs the block containing corruptOffset from parity
// and returns the path of the recovered block. The scratch name carries a
// random suffix so concurrent recoveries of the same file never collide.
// On any decode failure the scratch file is removed; no partial artifacts
// are left behind.
func (s *Service) RecoverBlock(ctx context.Context, srcPath string, codec *entity.Codec, corruptOffset int64) (string, error) {
	assoc, err := s.resolver.Resolve(codec, srcPath)
	if err != nil {
		return "", err
	}

	stat, err := s.fs.Stat(srcPath)
	if err != nil {
		return "", err
	}

	if corruptOffset < 0 || corruptOffset >= stat.Length {
		return "", fmt.Errorf("corrupt offset %d out of range for %s (length %d)",
			corruptOffset, srcPath, stat.Length)
	}

	// Never read past end of file.
	limit := stat.BlockSize
	if rest := stat.Length - corruptOffset; rest < limit {
		limit = rest
	}

	recovered := fmt.Sprintf("%s.%d%s",
		filepath.Join(s.recoveryRoot, util.MakeRelative(srcPath)), rand.Int63(), recoveredSuffix)
	s.log.Info("Creating recovered block", slog.String("path", recovered))

	out, err := s.fs.Create(recovered)
	if err != nil {
		return "", fmt.Errorf("cannot create recovered block %s: %w", recovered, err)
	}

	if err := s.dec.Decode(ctx, codec, srcPath, assoc.ParityPath, stat.BlockSize, corruptOffset, limit, out); err != nil {
		out.Close()
		if rmErr := s.fs.Remove(recovered); rmErr != nil {
			s.log.Error("Cannot remove partial recovered block",
				slog.String("path", recovered), slog.Any("error", rmErr))
		}

		return "", fmt.Errorf("cannot decode block at %d of %s: %w", corruptOffset, srcPath, err)
	}

	if err := out.Close(); err != nil {
		if rmErr := s.fs.Remove(recovered); rmErr != nil {
			s.log.Error("Cannot remove partial recovered block",
				slog.String("path", recovered), slog.Any("error", rmErr))
		}

		return "", fmt.Errorf("cannot close recovered block %s: %w", recovered, err)
	}

	return recovered, nil
}
