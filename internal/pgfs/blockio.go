package pgfs

import (
	"context"
	"fmt"
)

// readBuf implements the read side of the block I/O engine: clamp the
// request to the file's logical size, slice it into block-aligned pieces,
// fetch the sparse set of existing blocks in one query, and fill holes
// with zero bytes. Mirrors psql_read_buf.
func readBuf(ctx context.Context, store Store, blockSize int, id int64, fileSize, offset int64, length int) ([]byte, error) {
	if fileSize == 0 || length == 0 {
		return nil, nil
	}
	if offset >= fileSize {
		return nil, nil
	}
	if offset+int64(length) > fileSize {
		length = int(fileSize - offset)
	}

	slice := computeBlockSlice(blockSize, offset, length)

	blocks, err := store.ReadBlocks(ctx, id, slice.fromBlock, slice.toBlock)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	idx := 0
	for blockNo := slice.fromBlock; blockNo <= slice.toBlock; blockNo++ {
		var data []byte
		if idx < len(blocks) && blocks[idx].BlockNo == blockNo {
			data = blocks[idx].Data
			idx++
		} else {
			data = make([]byte, blockSize)
		}

		off, n := slice.subRange(blockNo, blockSize)
		if off+n > len(data) {
			return nil, fmt.Errorf("pgfs: read block %d of %d: %w", blockNo, id, ErrInconsistent)
		}
		out = append(out, data[off:off+n]...)
	}

	if len(out) != length {
		return nil, fmt.Errorf("pgfs: read %d of %d, copied %d wanted %d: %w", id, id, len(out), length, ErrInconsistent)
	}
	return out, nil
}

// writeBuf implements the write side: slice the request the same way
// readBuf does, and push each sub-range through writeBlock. Mirrors
// psql_write_buf.
func writeBuf(ctx context.Context, store Store, blockSize int, id int64, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	slice := computeBlockSlice(blockSize, offset, len(data))

	pos := 0
	for blockNo := slice.fromBlock; blockNo <= slice.toBlock; blockNo++ {
		off, n := slice.subRange(blockNo, blockSize)
		if err := writeBlock(ctx, store, blockSize, id, blockNo, off, data[pos:pos+n]); err != nil {
			return err
		}
		pos += n
	}
	if pos != len(data) {
		return fmt.Errorf("pgfs: write %d, wrote %d of %d bytes: %w", id, pos, len(data), ErrInconsistent)
	}
	return nil
}

// writeBlock issues the UPDATE for one block's sub-range, creating the row
// with InsertBlock and retrying exactly once if it didn't exist yet.
// Mirrors psql_write_block's update-or-insert-then-retry cycle.
func writeBlock(ctx context.Context, store Store, blockSize int, id, blockNo int64, subOffset int, payload []byte) error {
	n, err := store.UpdateBlock(ctx, id, blockNo, subOffset, payload)
	if err != nil {
		return err
	}
	switch {
	case n == 1:
		return nil
	case n == 0:
		if err := store.InsertBlock(ctx, id, blockNo, blockSize); err != nil {
			return err
		}
		n, err = store.UpdateBlock(ctx, id, blockNo, subOffset, payload)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("pgfs: write block %d of %d after insert: %w", blockNo, id, ErrInconsistent)
		}
		return nil
	default:
		return fmt.Errorf("pgfs: write block %d of %d affected %d rows: %w", blockNo, id, n, ErrInconsistent)
	}
}

// truncateFile implements truncate_file: drop every block past the new
// last block, then pad the new last block out to exactly blockSize bytes.
func truncateFile(ctx context.Context, store Store, blockSize int, id int64, newSize int64) error {
	if newSize == 0 {
		return store.DeleteBlocksAbove(ctx, id, -1)
	}

	slice := computeBlockSlice(blockSize, 0, int(newSize))

	if err := store.DeleteBlocksAbove(ctx, id, slice.toBlock); err != nil {
		return err
	}

	n, err := store.PadLastBlock(ctx, id, slice.toBlock, slice.toLen, blockSize)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := store.InsertBlock(ctx, id, slice.toBlock, blockSize); err != nil {
			return err
		}
		n, err = store.PadLastBlock(ctx, id, slice.toBlock, slice.toLen, blockSize)
		if err != nil {
			return err
		}
	}
	if n != 1 {
		return fmt.Errorf("pgfs: truncate %d to %d, padding block %d: %w", id, newSize, slice.toBlock, ErrInconsistent)
	}
	return nil
}
