package transfer

import (
	"fmt"
	"io"
	"math"
)

type Chunk struct {
	SequenceNo uint32
	Meta       ChunkMeta
	Data       []byte
	IsLast     bool
}

// ChunkSize returns how many payload bytes fit in one frame of mtu bytes
// after overhead, capped at remaining.
func ChunkSize(mtu uint16, overhead, remaining int) (int, error) {
	room := int(mtu) - overhead
	if room <= 0 {
		return 0, fmt.Errorf("%w: mtu %d with %d bytes of overhead", ErrMTUTooSmall, mtu, overhead)
	}
	return max(min(room, remaining), 0), nil
}

// Chunker walks an outbound payload in mtu-sized pieces. Each call to Next
// may use a different mtu; the pieces always tile [0, len(payload)) exactly.
type Chunker struct {
	id         TransferID
	payload    []byte
	overhead   int
	currentSeq uint32
	offset     uint32
	done       bool
}

func NewChunker(id TransferID, payload []byte, overhead int) (*Chunker, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if overhead < ChunkMetaLen {
		return nil, fmt.Errorf("control overhead %d is smaller than the chunk header", overhead)
	}
	return &Chunker{
		id:       id,
		payload:  payload,
		overhead: overhead,
	}, nil
}

// Meta returns the announcement for the whole payload.
func (c *Chunker) Meta() TransferMeta {
	return TransferMeta{ID: c.id, TotalSize: uint32(len(c.payload))}
}

// Next returns the chunk starting at the current offset. An empty payload
// yields a single zero-size chunk so the peer still sees a Write.
func (c *Chunker) Next(mtu uint16) (*Chunk, error) {
	if c.done {
		return nil, io.EOF
	}

	size, err := ChunkSize(mtu, c.overhead, c.Remaining())
	if err != nil {
		return nil, err
	}

	start := c.offset
	end := start + uint32(size)
	c.offset = end
	c.currentSeq++
	c.done = int(end) == len(c.payload)

	return &Chunk{
		SequenceNo: c.currentSeq,
		Meta:       ChunkMeta{ID: c.id, Start: start, ChunkSize: uint32(size)},
		Data:       c.payload[start:end],
		IsLast:     c.done,
	}, nil
}

// Offset is the start of the next chunk.
func (c *Chunker) Offset() uint32 {
	return c.offset
}

func (c *Chunker) Remaining() int {
	return len(c.payload) - int(c.offset)
}

func (c *Chunker) Done() bool {
	return c.done
}

// Reassembler accumulates inbound chunks for one announced transfer and
// enforces contiguous, strictly increasing delivery.
type Reassembler struct {
	meta   TransferMeta
	buf    []byte
	chunks int
}

func NewReassembler(meta TransferMeta, maxSize int) (*Reassembler, error) {
	if maxSize > 0 && int64(meta.TotalSize) > int64(maxSize) {
		return nil, fmt.Errorf("%w: peer announced %d bytes, limit is %d", ErrPayloadTooLarge, meta.TotalSize, maxSize)
	}
	return &Reassembler{
		meta: meta,
		buf:  make([]byte, 0, meta.TotalSize),
	}, nil
}

// Add appends one chunk. The buffer is left untouched when the chunk is
// rejected.
func (r *Reassembler) Add(chunk ChunkMeta, data []byte) error {
	const op = "receive"
	switch {
	case chunk.ID != r.meta.ID:
		return protocolErrorf(op, "chunk id not match: expected %s, got %s", r.meta.ID, chunk.ID)
	case uint32(len(data)) != chunk.ChunkSize:
		return protocolErrorf(op, "chunk declares %d bytes but carries %d", chunk.ChunkSize, len(data))
	case chunk.Start != r.Next():
		return protocolErrorf(op, "chunk starts at %d, expected %d", chunk.Start, r.Next())
	case uint64(chunk.Start)+uint64(chunk.ChunkSize) > uint64(r.meta.TotalSize):
		return protocolErrorf(op, "chunk [%d,%d) overruns total size %d", chunk.Start, uint64(chunk.Start)+uint64(chunk.ChunkSize), r.meta.TotalSize)
	case chunk.ChunkSize == 0 && r.Next() < r.meta.TotalSize:
		return protocolErrorf(op, "empty chunk at %d of %d", chunk.Start, r.meta.TotalSize)
	}

	r.buf = append(r.buf, data...)
	r.chunks++
	return nil
}

// Next is the offset the next chunk must start at.
func (r *Reassembler) Next() uint32 {
	return uint32(len(r.buf))
}

func (r *Reassembler) Complete() bool {
	return r.Next() >= r.meta.TotalSize
}

func (r *Reassembler) Chunks() int {
	return r.chunks
}

func (r *Reassembler) Meta() TransferMeta {
	return r.meta
}

// Bytes returns the reassembled payload. It is only whole once Complete
// reports true.
func (r *Reassembler) Bytes() []byte {
	return r.buf
}
