package erasure

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/entity"
)

const (
	CodeXOR = "xor"
)

// FileSystem is the filesystem surface the codec needs.
type FileSystem interface {
	Stat(path string) (*entity.FileSnapshot, error)
	Open(path string) (afero.File, error)
	Create(path string) (afero.File, error)
	SetReplication(path string, replication int) (bool, error)
}

// XOR is the built-in single-parity erasure code: one parity block per
// stripe, each the XOR of the stripe's data blocks. Codecs referencing any
// other erasure_code must be served by an external encoder.
type XOR struct {
	fs  FileSystem
	log *slog.Logger
}

func NewXOR(fs FileSystem, log *slog.Logger) *XOR {
	return &XOR{
		fs:  fs,
		log: log.With(slog.String("item", "XORCodec")),
	}
}

func (x *XOR) check(codec *entity.Codec) error {
	if codec.ErasureCode != CodeXOR {
		return fmt.Errorf("unsupported erasure code %s", codec.ErasureCode)
	}
	if codec.ParityLength != 1 {
		return fmt.Errorf("xor codec requires parity_length 1, got %d", codec.ParityLength)
	}

	return nil
}

// Encode writes the parity file for src: one block per stripe.
func (x *XOR) Encode(ctx context.Context, codec *entity.Codec, srcPath, parityPath string, metaReplication int) error {
	if err := x.check(codec); err != nil {
		return err
	}

	stat, err := x.fs.Stat(srcPath)
	if err != nil {
		return err
	}

	in, err := x.fs.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := x.fs.Create(parityPath)
	if err != nil {
		return err
	}
	defer out.Close()

	parityBlock := make([]byte, stat.BlockSize)
	buf := make([]byte, stat.BlockSize)

	numBlocks := stat.NumBlocks()
	for first := int64(0); first < numBlocks; first += int64(codec.StripeLength) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for i := range parityBlock {
			parityBlock[i] = 0
		}

		var maxRead int64
		for b := first; b < first+int64(codec.StripeLength) && b < numBlocks; b++ {
			n, err := readBlock(in, buf, b*stat.BlockSize, stat.Length)
			if err != nil {
				return fmt.Errorf("cannot read block %d of %s: %w", b, srcPath, err)
			}
			if n > maxRead {
				maxRead = n
			}

			for i := int64(0); i < n; i++ {
				parityBlock[i] ^= buf[i]
			}
		}

		if _, err := out.Write(parityBlock[:maxRead]); err != nil {
			return fmt.Errorf("cannot write parity block: %w", err)
		}
	}

	if _, err := x.fs.SetReplication(parityPath, metaReplication); err != nil {
		return err
	}

	return nil
}

// Decode reconstructs the block at corruptOffset by XOR-ing the stripe's
// parity block with the surviving data blocks and writes limit bytes of it
// to out.
func (x *XOR) Decode(ctx context.Context, codec *entity.Codec, srcPath, parityPath string, blockSize, corruptOffset, limit int64, out io.Writer) error {
	if err := x.check(codec); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stat, err := x.fs.Stat(srcPath)
	if err != nil {
		return err
	}
	pstat, err := x.fs.Stat(parityPath)
	if err != nil {
		return err
	}

	in, err := x.fs.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	par, err := x.fs.Open(parityPath)
	if err != nil {
		return err
	}
	defer par.Close()

	badBlock := corruptOffset / blockSize
	stripe := badBlock / int64(codec.StripeLength)

	block := make([]byte, blockSize)
	if _, err := readBlock(par, block, stripe*blockSize, pstat.Length); err != nil {
		return fmt.Errorf("cannot read parity block %d: %w", stripe, err)
	}

	buf := make([]byte, blockSize)
	first := stripe * int64(codec.StripeLength)
	numBlocks := stat.NumBlocks()
	for b := first; b < first+int64(codec.StripeLength) && b < numBlocks; b++ {
		if b == badBlock {
			continue
		}

		n, err := readBlock(in, buf, b*blockSize, stat.Length)
		if err != nil {
			return fmt.Errorf("cannot read block %d of %s: %w", b, srcPath, err)
		}

		for i := int64(0); i < n; i++ {
			block[i] ^= buf[i]
		}
	}

	if _, err := out.Write(block[:limit]); err != nil {
		return fmt.Errorf("cannot write recovered block: %w", err)
	}

	return nil
}

// readBlock fills buf from offset, stopping at fileLength, and returns the
// number of bytes read. Unfilled bytes are zeroed so XOR over short blocks
// stays correct.
func readBlock(f io.ReaderAt, buf []byte, offset, fileLength int64) (int64, error) {
	for i := range buf {
		buf[i] = 0
	}

	if offset >= fileLength {
		return 0, nil
	}

	n := int64(len(buf))
	if fileLength-offset < n {
		n = fileLength - offset
	}

	if _, err := f.ReadAt(buf[:n], offset); err != nil && err != io.EOF {
		return 0, err
	}

	return n, nil
}
