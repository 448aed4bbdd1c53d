package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
)

const (
	ClassBase  = "base"
	ClassLocal = "local"
)

// Recoverer is the node-level file recovery operation exposed on the
// control surface.
type Recoverer interface {
	RecoverFile(ctx context.Context, path string, corruptOffset int64) (string, error)
}

type BlockRecoverer interface {
	RecoverBlock(ctx context.Context, srcPath string, codec *entity.Codec, corruptOffset int64) (string, error)
}

type CodecRegistry interface {
	All() []*entity.Codec
}

type Deps struct {
	Recovery BlockRecoverer
	Codecs   CodecRegistry
	Log      *slog.Logger
}

// Factory builds a node class. The registry below replaces runtime class
// loading: the configured class name maps to an explicit constructor.
type Factory func(deps Deps) (Recoverer, error)

var registry = map[string]Factory{
	ClassBase: func(_ Deps) (Recoverer, error) {
		return &baseNode{}, nil
	},
	ClassLocal: func(deps Deps) (Recoverer, error) {
		return &localNode{
			rec:    deps.Recovery,
			codecs: deps.Codecs,
			log:    deps.Log.With(slog.String("item", "LocalNode")),
		}, nil
	},
}

func New(class string, deps Deps) (Recoverer, error) {
	factory, exists := registry[class]
	if !exists {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownNodeClass, class)
	}

	return factory(deps)
}

// baseNode does not implement recovery.
type baseNode struct{}

func (baseNode) RecoverFile(_ context.Context, _ string, _ int64) (string, error) {
	return "", common.ErrNotSupported
}

// localNode recovers blocks in process, trying codecs in priority order.
type localNode struct {
	rec    BlockRecoverer
	codecs CodecRegistry

	log *slog.Logger
}

func (n *localNode) RecoverFile(ctx context.Context, path string, corruptOffset int64) (string, error) {
	for _, codec := range n.codecs.All() {
		recovered, err := n.rec.RecoverBlock(ctx, path, codec, corruptOffset)
		if err != nil {
			if errors.Is(err, common.ErrNoParityFile) {
				continue
			}

			return "", err
		}

		return recovered, nil
	}

	return "", fmt.Errorf("%w: %s", common.ErrNoParityFile, path)
}
