package transfer

import (
	"fmt"
	"math/rand/v2"
)

const (
	// TransferMetaLen is the encoded size of TransferMeta.
	TransferMetaLen = 8
	// ChunkMetaLen is the encoded size of the header preceding every data chunk.
	ChunkMetaLen = 12
)

// TransferID correlates every message of one transfer.
type TransferID uint32

// NewTransferID returns a random correlation id for a new outbound transfer.
func NewTransferID() TransferID {
	return TransferID(rand.Uint32())
}

func (id TransferID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// TransferMeta announces the full byte length of a payload at transfer start.
type TransferMeta struct {
	ID        TransferID `json:"id"`
	TotalSize uint32     `json:"total_size"`
}

func (m TransferMeta) appendTo(dst []byte, order ByteOrder) []byte {
	dst = order.AppendUint32(dst, uint32(m.ID))
	return order.AppendUint32(dst, m.TotalSize)
}

func decodeTransferMeta(b []byte, order ByteOrder) (TransferMeta, []byte, error) {
	if len(b) < TransferMetaLen {
		return TransferMeta{}, nil, fmt.Errorf("%w: transfer meta needs %d bytes, got %d", ErrShortFrame, TransferMetaLen, len(b))
	}
	return TransferMeta{
		ID:        TransferID(order.Uint32(b[0:4])),
		TotalSize: order.Uint32(b[4:8]),
	}, b[TransferMetaLen:], nil
}

// ChunkMeta precedes every data chunk. Start is the byte offset of the chunk
// within the payload and ChunkSize its length.
type ChunkMeta struct {
	ID        TransferID `json:"id"`
	Start     uint32     `json:"start"`
	ChunkSize uint32     `json:"chunk_size"`
}

// End returns the offset one past the last byte of the chunk.
func (m ChunkMeta) End() uint32 {
	return m.Start + m.ChunkSize
}

func (m ChunkMeta) appendTo(dst []byte, order ByteOrder) []byte {
	dst = order.AppendUint32(dst, uint32(m.ID))
	dst = order.AppendUint32(dst, m.Start)
	return order.AppendUint32(dst, m.ChunkSize)
}

func decodeChunkMeta(b []byte, order ByteOrder) (ChunkMeta, []byte, error) {
	if len(b) < ChunkMetaLen {
		return ChunkMeta{}, nil, fmt.Errorf("%w: chunk meta needs %d bytes, got %d", ErrShortFrame, ChunkMetaLen, len(b))
	}
	return ChunkMeta{
		ID:        TransferID(order.Uint32(b[0:4])),
		Start:     order.Uint32(b[4:8]),
		ChunkSize: order.Uint32(b[8:12]),
	}, b[ChunkMetaLen:], nil
}
