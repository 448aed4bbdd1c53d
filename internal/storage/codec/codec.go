package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
)

// Registry holds the codecs loaded at startup. The registry file is a JSON
// list; codecs are immutable and looked up by id. All() iterates in
// descending priority order, the order archive consolidation uses.
type Registry struct {
	byID    map[string]*entity.Codec
	ordered []*entity.Codec
}

func Load(fs afero.Fs, path string) (*Registry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read codec file %s: %w", path, err)
	}

	var codecs []*entity.Codec
	if err := json.Unmarshal(data, &codecs); err != nil {
		return nil, fmt.Errorf("cannot parse codec file %s: %w", path, err)
	}

	return New(codecs)
}

func New(codecs []*entity.Codec) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]*entity.Codec, len(codecs)),
		ordered: make([]*entity.Codec, 0, len(codecs)),
	}

	for _, c := range codecs {
		if c.ID == "" {
			return nil, fmt.Errorf("codec without id")
		}
		if c.StripeLength < 1 || c.ParityLength < 1 {
			return nil, fmt.Errorf("codec %s: stripe_length and parity_length must be >= 1", c.ID)
		}
		if _, exists := r.byID[c.ID]; exists {
			return nil, fmt.Errorf("duplicate codec id %s", c.ID)
		}

		r.byID[c.ID] = c
		r.ordered = append(r.ordered, c)
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority > r.ordered[j].Priority
	})

	return r, nil
}

func (r *Registry) Get(id string) (*entity.Codec, error) {
	c, exists := r.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownCodec, id)
	}

	return c, nil
}

// All returns the codecs in descending priority order.
func (r *Registry) All() []*entity.Codec {
	return r.ordered
}
