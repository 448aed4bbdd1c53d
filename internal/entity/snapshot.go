package entity

import "time"

// BlockLocation describes one block of a file.
type BlockLocation struct {
	Offset int64
	Length int64
}

// FileSnapshot is a point-in-time view of a file. It is never mutated;
// whenever freshness matters a new snapshot is fetched and compared.
type FileSnapshot struct {
	Path        string
	Length      int64
	BlockSize   int64
	Replication int
	ModTime     time.Time
	IsDir       bool
	Blocks      []BlockLocation
}

// NumBlocks returns the number of blocks the file occupies.
func (s *FileSnapshot) NumBlocks() int64 {
	if s.BlockSize <= 0 {
		return 0
	}

	return (s.Length + s.BlockSize - 1) / s.BlockSize
}
