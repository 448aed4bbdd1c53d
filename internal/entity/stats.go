package entity

import (
	"fmt"
	"sync/atomic"
)

// Statistics accumulates raw-block counters for the lifetime of the process.
// The raid executor is the only writer; the stats collector and the trigger
// loop read concurrently, hence the atomics.
type Statistics struct {
	numProcessedBlocks atomic.Int64
	processedSize      atomic.Int64
	remainingSize      atomic.Int64
	numMetaBlocks      atomic.Int64
	metaSize           atomic.Int64
}

// StatisticsSnapshot is a plain copy of the counters at one moment.
type StatisticsSnapshot struct {
	NumProcessedBlocks int64 `json:"num_processed_blocks"`
	ProcessedSize      int64 `json:"processed_size"`
	RemainingSize      int64 `json:"remaining_size"`
	NumMetaBlocks      int64 `json:"num_meta_blocks"`
	MetaSize           int64 `json:"meta_size"`
}

func (s *Statistics) AddProcessed(blocks, size int64) {
	s.numProcessedBlocks.Add(blocks)
	s.processedSize.Add(size)
}

func (s *Statistics) AddRemaining(size int64) {
	s.remainingSize.Add(size)
}

func (s *Statistics) AddMeta(blocks, size int64) {
	s.numMetaBlocks.Add(blocks)
	s.metaSize.Add(size)
}

func (s *Statistics) Clear() {
	s.numProcessedBlocks.Store(0)
	s.processedSize.Store(0)
	s.remainingSize.Store(0)
	s.numMetaBlocks.Store(0)
	s.metaSize.Store(0)
}

func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		NumProcessedBlocks: s.numProcessedBlocks.Load(),
		ProcessedSize:      s.processedSize.Load(),
		RemainingSize:      s.remainingSize.Load(),
		NumMetaBlocks:      s.numMetaBlocks.Load(),
		MetaSize:           s.metaSize.Load(),
	}
}

func (s StatisticsSnapshot) String() string {
	save := s.ProcessedSize - (s.RemainingSize + s.MetaSize)

	var savep int64
	if s.ProcessedSize > 0 {
		savep = save * 100 / s.ProcessedSize
	}

	return fmt.Sprintf("numProcessedBlocks=%d processedSize=%d postRaidSize=%d numMetaBlocks=%d metaSize=%d save=%d%%",
		s.NumProcessedBlocks, s.ProcessedSize, s.RemainingSize, s.NumMetaBlocks, s.MetaSize, savep)
}
