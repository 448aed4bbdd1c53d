package integrity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jgivc/raidnode/internal/entity"
)

// BadBlock is one unit of reconstruction work: a file with a known-bad
// byte offset and the codec that covers it.
type BadBlock struct {
	Path    string
	CodecID string
	Offset  int64
}

// Source supplies reconstruction work. Corruption detection and
// decommissioning tracking are external; the workers only drain them.
type Source interface {
	Pull(ctx context.Context) ([]BadBlock, error)
}

// SourceFunc adapts a plain function to a Source.
type SourceFunc func(ctx context.Context) ([]BadBlock, error)

func (f SourceFunc) Pull(ctx context.Context) ([]BadBlock, error) {
	return f(ctx)
}

// NopSource never yields work. It stands in for a detector that has not
// been attached to this node.
func NopSource() Source {
	return SourceFunc(func(_ context.Context) ([]BadBlock, error) {
		return nil, nil
	})
}

type Recoverer interface {
	RecoverBlock(ctx context.Context, srcPath string, codec *entity.Codec, corruptOffset int64) (string, error)
}

type CodecRegistry interface {
	Get(id string) (*entity.Codec, error)
}

// Status are the lifetime counters of one worker.
type Status struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Worker is one block-reconstruction loop: the corruption fixer and the
// decommission copier are two instances with different sources.
type Worker struct {
	name     string
	src      Source
	codecs   CodecRegistry
	rec      Recoverer
	interval time.Duration

	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	log *slog.Logger
}

func NewWorker(name string, src Source, codecs CodecRegistry, rec Recoverer, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		src:      src,
		codecs:   codecs,
		rec:      rec,
		interval: interval,
		log:      log.With(slog.String("service", name)),
	}
}

func (w *Worker) Status() Status {
	return Status{
		Attempted: w.attempted.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Leaving worker loop")

			return
		case <-time.After(w.interval):
		}

		w.Sweep(ctx)
	}
}

// Sweep drains the source once. A failed reconstruction is counted and
// logged; the remaining items are still attempted.
func (w *Worker) Sweep(ctx context.Context) {
	blocks, err := w.src.Pull(ctx)
	if err != nil {
		w.log.Error("Cannot pull work items", slog.Any("error", err))

		return
	}

	for _, b := range blocks {
		codec, err := w.codecs.Get(b.CodecID)
		if err != nil {
			w.log.Error("Cannot resolve codec", slog.String("codec", b.CodecID), slog.Any("error", err))

			continue
		}

		w.attempted.Add(1)
		recovered, err := w.rec.RecoverBlock(ctx, b.Path, codec, b.Offset)
		if err != nil {
			w.failed.Add(1)
			w.log.Error("Cannot recover block", slog.String("path", b.Path),
				slog.Int64("offset", b.Offset), slog.Any("error", err))

			continue
		}

		w.succeeded.Add(1)
		w.log.Info("Recovered block", slog.String("path", b.Path),
			slog.Int64("offset", b.Offset), slog.String("recovered", recovered))
	}
}
