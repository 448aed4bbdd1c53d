package catalog

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/jgivc/raidnode/internal/entity"
)

// CodecRegistry validates codec references during load.
type CodecRegistry interface {
	Get(id string) (*entity.Codec, error)
}

// Catalog is the policy list the trigger loop works from. The list is
// replaced wholesale on reload so readers always see a consistent snapshot.
type Catalog struct {
	fs     afero.Fs
	path   string
	codecs CodecRegistry

	policies atomic.Value // []*entity.Policy
	loadedAt atomic.Int64 // unix nanos of the file mtime at last load

	log *slog.Logger
}

func New(fs afero.Fs, path string, codecs CodecRegistry, log *slog.Logger) (*Catalog, error) {
	c := &Catalog{
		fs:     fs,
		path:   path,
		codecs: codecs,
		log:    log.With(slog.String("item", "PolicyCatalog")),
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	return c, nil
}

// Policies returns the current snapshot of the catalog.
func (c *Catalog) Policies() []*entity.Policy {
	return c.policies.Load().([]*entity.Policy)
}

// ReloadIfNecessary re-reads the policy file when its modification time has
// changed since the last load. Returns whether a reload happened.
func (c *Catalog) ReloadIfNecessary() (bool, error) {
	info, err := c.fs.Stat(c.path)
	if err != nil {
		return false, fmt.Errorf("cannot stat policy file %s: %w", c.path, err)
	}

	if info.ModTime().UnixNano() == c.loadedAt.Load() {
		return false, nil
	}

	if err := c.load(); err != nil {
		return false, err
	}

	c.log.Info("Reloaded policies", slog.Int("count", len(c.Policies())))

	return true, nil
}

func (c *Catalog) load() error {
	info, err := c.fs.Stat(c.path)
	if err != nil {
		return fmt.Errorf("cannot stat policy file %s: %w", c.path, err)
	}

	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return fmt.Errorf("cannot read policy file %s: %w", c.path, err)
	}

	var doc struct {
		Policies []*entity.Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("cannot parse policy file %s: %w", c.path, err)
	}

	seen := make(map[string]struct{}, len(doc.Policies))
	for _, p := range doc.Policies {
		if p.Name == "" {
			return fmt.Errorf("policy without name in %s", c.path)
		}
		if _, exists := seen[p.Name]; exists {
			return fmt.Errorf("duplicate policy %s in %s", p.Name, c.path)
		}
		seen[p.Name] = struct{}{}

		if _, err := c.codecs.Get(p.CodecID); err != nil {
			return fmt.Errorf("policy %s: %w", p.Name, err)
		}
		if p.TargetReplication < 1 || p.MetaReplication < 1 {
			return fmt.Errorf("policy %s: replication values must be >= 1", p.Name)
		}
	}

	c.policies.Store(doc.Policies)
	c.loadedAt.Store(info.ModTime().UnixNano())

	return nil
}

// LoadedAt reports the policy file mtime captured by the last load.
func (c *Catalog) LoadedAt() time.Time {
	return time.Unix(0, c.loadedAt.Load())
}
