package parity

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/util"
)

const (
	// HarSuffix is part of the wire-level naming contract; archives created
	// by this daemon and its predecessors all carry it.
	HarSuffix = "_raid.har"
)

var harPartFileRegexp = regexp.MustCompile(".*" + HarSuffix + "/part-.*")

// FileSystem is the subset of the dfs adapter the resolver needs.
type FileSystem interface {
	Exists(path string) (bool, error)
}

// Resolver computes parity associations. Associations are resolved on
// demand and never cached: the source may move or change between encode
// and a later recovery.
type Resolver struct {
	fs FileSystem
}

func NewResolver(fs FileSystem) *Resolver {
	return &Resolver{fs: fs}
}

// Path returns the expected parity location for a source path: the source's
// relative path mirrored under the codec's parity directory.
func Path(codec *entity.Codec, srcPath string) string {
	return filepath.Join(codec.ParityDir, util.MakeRelative(srcPath))
}

// Resolve returns the parity association for (codec, source), or
// common.ErrNoParityFile when no parity file exists.
func (r *Resolver) Resolve(codec *entity.Codec, srcPath string) (*entity.ParityAssociation, error) {
	parityPath := Path(codec, srcPath)

	exists, err := r.fs.Exists(parityPath)
	if err != nil {
		return nil, fmt.Errorf("cannot check parity file %s: %w", parityPath, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s for %s", common.ErrNoParityFile, codec.ID, srcPath)
	}

	return &entity.ParityAssociation{
		Codec:      codec,
		SrcPath:    srcPath,
		ParityPath: parityPath,
	}, nil
}

// IsHarPartFile reports whether a path is a part file inside a parity
// archive.
func IsHarPartFile(path string) bool {
	return harPartFileRegexp.MatchString(path)
}
