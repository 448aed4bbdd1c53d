package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/adapter/archiver"
	"github.com/jgivc/raidnode/internal/adapter/dfs"
	"github.com/jgivc/raidnode/internal/adapter/erasure"
	"github.com/jgivc/raidnode/internal/config"
	"github.com/jgivc/raidnode/internal/entity"
	httphandler "github.com/jgivc/raidnode/internal/handler/http"
	statsrepo "github.com/jgivc/raidnode/internal/repository/stats"
	"github.com/jgivc/raidnode/internal/service/har"
	"github.com/jgivc/raidnode/internal/service/integrity"
	"github.com/jgivc/raidnode/internal/service/node"
	"github.com/jgivc/raidnode/internal/service/purge"
	"github.com/jgivc/raidnode/internal/service/raid"
	"github.com/jgivc/raidnode/internal/service/recovery"
	srvstats "github.com/jgivc/raidnode/internal/service/stats"
	"github.com/jgivc/raidnode/internal/service/trigger"
	"github.com/jgivc/raidnode/internal/storage/catalog"
	"github.com/jgivc/raidnode/internal/storage/codec"
	"github.com/jgivc/raidnode/internal/storage/parity"
	"github.com/jgivc/raidnode/internal/storage/traversal"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	srv   *http.Server
	stats *entity.Statistics
	raid  *raid.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	log *slog.Logger
}

func New(cfgPath string) *App {
	// The context exists before Start runs so an early Stop is safe.
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfgPath: cfgPath,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	osFs := afero.NewOsFs()

	fs := dfs.NewWithFS(osFs, &a.cfg.DFS, log)

	codecs, err := codec.Load(osFs, a.cfg.CodecFile)
	if err != nil {
		panic(err)
	}

	cat, err := catalog.New(osFs, a.cfg.PolicyFile, codecs, log)
	if err != nil {
		panic(err)
	}

	a.stats = &entity.Statistics{}
	resolver := parity.NewResolver(fs)
	xor := erasure.NewXOR(fs, log)

	a.raid = raid.NewService(fs, codecs, xor, a.stats, log)
	recSrv := recovery.NewService(fs, resolver, xor, a.cfg.RecoveryLocation, log)

	rec, err := node.New(a.cfg.NodeClass, node.Deps{Recovery: recSrv, Codecs: codecs, Log: log})
	if err != nil {
		panic(err)
	}

	ctx := a.ctx

	trig := trigger.NewMonitor(cat, a.raid, fs, a.traversalFactory(fs, codecs), trigger.Config{
		SleepInterval:    a.cfg.SleepInterval,
		Periodicity:      a.cfg.Periodicity,
		MaxJobsPerPolicy: a.cfg.MaxJobsPerPolicy,
		MaxFilesPerJob:   a.cfg.MaxFilesPerJob,
	}, log)
	a.runLoop(ctx, trig.Run)

	harMon := har.NewMonitor(fs, codecs, resolver, archiver.New(fs, log), har.Config{
		ThresholdDays: a.cfg.HarThresholdDays,
		PartfileSize:  a.cfg.HarPartfileSize,
		Periodicity:   a.cfg.Periodicity,
		SleepInterval: a.cfg.SleepInterval,
	}, log)
	a.runLoop(ctx, harMon.Run)

	purgeMon := purge.NewMonitor(fs, codecs, a.cfg.PurgeInterval, log)
	a.runLoop(ctx, purgeMon.Run)

	if !a.cfg.DisableCorruptFixer {
		fixer := integrity.NewWorker("block_fixer", integrity.NopSource(), codecs, recSrv, a.cfg.SleepInterval, log)
		a.runLoop(ctx, fixer.Run)
	}
	if !a.cfg.DisableDecommissionCopier {
		copier := integrity.NewWorker("block_copier", integrity.NopSource(), codecs, recSrv, a.cfg.SleepInterval, log)
		a.runLoop(ctx, copier.Run)
	}

	var pub srvstats.Publisher
	if a.cfg.RedisURL != "" {
		opt, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			panic(err)
		}
		pub = statsrepo.NewStatsRepository(rdb, log)
	}

	collector := srvstats.NewCollector(a.stats, pub, a.cfg.SleepInterval, log)
	a.runLoop(ctx, collector.Run)

	limit := newLimiter(a.cfg.HandlerCount)
	http.Handle("GET /policies/{$}", limit(httphandler.NewPoliciesHandler(cat, log)))
	http.Handle("GET /stats/{$}", limit(httphandler.NewStatsHandler(collector, log)))
	http.Handle("POST /recover/{$}", limit(httphandler.NewRecoverHandler(rec, log)))

	a.srv = &http.Server{
		Addr: a.cfg.Listen,
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

// Dump logs the current statistics.
func (a *App) Dump() {
	a.log.Info("Statistics", slog.String("stats", a.stats.Snapshot().String()))
}

// Stop cancels every loop, waits for them and for in-flight raid jobs, and
// shuts the server down. Idempotent.
func (a *App) Stop() {
	a.once.Do(func() {
		a.cancel()
		if a.raid != nil {
			a.raid.Wait()
		}
		a.wg.Wait()

		if a.srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		a.srv.Shutdown(ctx)
	})
}

func (a *App) runLoop(ctx context.Context, run func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		run(ctx)
	}()
}

// traversalFactory builds per-policy traversals seeded with all current
// policies: a policy's walk skips parity namespaces and paths claimed by
// policies earlier in catalog order.
func (a *App) traversalFactory(fs *dfs.FS, codecs *codec.Registry) trigger.TraversalFactory {
	return func(policy *entity.Policy, all []*entity.Policy) *traversal.Traversal {
		var roots []string
		for _, expr := range policy.SrcPaths {
			paths, err := fs.Glob(expr)
			if err != nil {
				a.log.Error("Cannot expand source path", slog.String("policy", policy.Name),
					slog.String("expr", expr), slog.Any("error", err))

				continue
			}
			roots = append(roots, paths...)
		}

		var claimed []string
		for _, other := range all {
			if other.Name == policy.Name {
				break
			}
			for _, expr := range other.SrcPaths {
				paths, err := fs.Glob(expr)
				if err != nil {
					continue
				}
				claimed = append(claimed, paths...)
			}
		}
		for _, c := range codecs.All() {
			claimed = append(claimed, c.ParityDir, c.TmpParityDir, c.TmpHarDir)
		}

		filter := func(snap *entity.FileSnapshot) bool {
			if parity.IsHarPartFile(snap.Path) {
				return false
			}
			for _, prefix := range claimed {
				if strings.HasPrefix(snap.Path, prefix+"/") || snap.Path == prefix {
					return false
				}
			}

			return true
		}

		return traversal.New(fs, roots, traversal.Options{
			Threads: a.cfg.Traversal.Threads,
			Shuffle: !a.cfg.Traversal.DisableShuffle,
			Filter:  filter,
		}, a.log)
	}
}

// newLimiter bounds concurrent request handling the way the original's
// handler-thread count did.
func newLimiter(n int) func(next http.Handler) http.Handler {
	sem := make(chan struct{}, n)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sem <- struct{}{}
			defer func() { <-sem }()

			next.ServeHTTP(w, r)
		})
	}
}
