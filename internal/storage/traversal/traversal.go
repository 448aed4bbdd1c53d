package traversal

import (
	"log/slog"
	"math/rand"
	"sync"

	"github.com/jgivc/raidnode/internal/entity"
)

const (
	outBufferSize = 256
)

// Lister is the directory enumeration the traversal needs from the
// filesystem adapter.
type Lister interface {
	ReadDir(path string) ([]*entity.FileSnapshot, error)
}

// Filter decides whether a file is yielded. Returning false skips the file.
type Filter func(snap *entity.FileSnapshot) bool

type Options struct {
	Threads int
	Shuffle bool
	Filter  Filter
}

// Traversal is a restartable enumeration of all files under a set of roots.
// Internally it fans out across Threads workers; the caller sees a single
// pull interface. Not pulling suspends the traversal, pulling again resumes
// it with the remaining files in the same relative order.
type Traversal struct {
	out  chan *entity.FileSnapshot
	stop chan struct{}
	once sync.Once

	log *slog.Logger
}

func New(fs Lister, roots []string, opts Options, log *slog.Logger) *Traversal {
	if opts.Threads < 1 {
		opts.Threads = 1
	}

	t := &Traversal{
		out:  make(chan *entity.FileSnapshot, outBufferSize),
		stop: make(chan struct{}),
		log:  log.With(slog.String("item", "Traversal")),
	}

	go t.run(fs, roots, opts)

	return t
}

// Next returns the next file, blocking while workers are listing. A nil
// result means the traversal is complete.
func (t *Traversal) Next() *entity.FileSnapshot {
	snap, ok := <-t.out
	if !ok {
		return nil
	}

	return snap
}

// Stop cancels the traversal. Idempotent.
func (t *Traversal) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})
}

func (t *Traversal) run(fs Lister, roots []string, opts Options) {
	defer close(t.out)

	work := make(chan string)

	// pending counts directories queued but not yet processed; when it hits
	// zero the work channel is closed and the workers drain out.
	var pending sync.WaitGroup
	pending.Add(len(roots))
	go func() {
		pending.Wait()
		close(work)
	}()

	go func() {
		for _, root := range roots {
			select {
			case work <- root:
			case <-t.stop:
				pending.Done()
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(opts.Threads)
	for n := 0; n < opts.Threads; n++ {
		go t.worker(n, fs, work, &pending, opts, &wg)
	}

	wg.Wait()
}

func (t *Traversal) worker(n int, fs Lister, work chan string, pending *sync.WaitGroup, opts Options, wg *sync.WaitGroup) {
	defer wg.Done()

	log := t.log.With(slog.Int("worker_id", n))

	for dir := range work {
		t.processDir(log, fs, dir, work, pending, opts)
		pending.Done()
	}
}

func (t *Traversal) processDir(log *slog.Logger, fs Lister, dir string, work chan string, pending *sync.WaitGroup, opts Options) {
	select {
	case <-t.stop:
		return
	default:
	}

	entries, err := fs.ReadDir(dir)
	if err != nil {
		log.Error("Cannot list directory", slog.String("path", dir), slog.Any("error", err))

		return
	}

	if opts.Shuffle {
		rand.Shuffle(len(entries), func(i, j int) {
			entries[i], entries[j] = entries[j], entries[i]
		})
	}

	for _, entry := range entries {
		if entry.IsDir {
			pending.Add(1)
			select {
			case work <- entry.Path:
			default:
				// All workers are busy; hand the directory off without
				// blocking this one.
				go func(p string) {
					select {
					case work <- p:
					case <-t.stop:
						pending.Done()
					}
				}(entry.Path)
			}

			continue
		}

		if opts.Filter != nil && !opts.Filter(entry) {
			continue
		}

		select {
		case t.out <- entry:
		case <-t.stop:
			return
		}
	}
}
