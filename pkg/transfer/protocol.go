package transfer

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ByteOrder is the integer layout used for every multi-byte field on the wire.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// ControlKind tags a message written by the controller to the characteristic.
type ControlKind byte

const (
	ControlStartWrite  ControlKind = 0x01
	ControlWrite       ControlKind = 0x02
	ControlStartRead   ControlKind = 0x03
	ControlReadReceive ControlKind = 0x04
	ControlReadFinish  ControlKind = 0x05
)

func (k ControlKind) String() string {
	switch k {
	case ControlStartWrite:
		return "start_write"
	case ControlWrite:
		return "write"
	case ControlStartRead:
		return "start_read"
	case ControlReadReceive:
		return "read_receive"
	case ControlReadFinish:
		return "read_finish"
	default:
		return fmt.Sprintf("control(0x%02x)", byte(k))
	}
}

// NotifyKind tags a message notified by the peripheral.
type NotifyKind byte

const (
	NotifyUnknown      NotifyKind = 0x00
	NotifyWriteReady   NotifyKind = 0x81
	NotifyWriteReceive NotifyKind = 0x82
	NotifyWriteFinish  NotifyKind = 0x83
	NotifyReadReady    NotifyKind = 0x84
	NotifyDataUpdate   NotifyKind = 0x85
	NotifyError        NotifyKind = 0x86
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyWriteReady:
		return "write_ready"
	case NotifyWriteReceive:
		return "write_receive"
	case NotifyWriteFinish:
		return "write_finish"
	case NotifyReadReady:
		return "read_ready"
	case NotifyDataUpdate:
		return "data_update"
	case NotifyError:
		return "error"
	default:
		return "unknown"
	}
}

// ControlMessage is one outbound control frame. Only the fields relevant to
// Kind are encoded.
type ControlMessage struct {
	Kind      ControlKind
	Meta      TransferMeta // StartWrite
	Chunk     ChunkMeta    // Write
	Data      []byte       // Write
	NextStart uint32       // ReadReceive
}

func StartWrite(meta TransferMeta) ControlMessage {
	return ControlMessage{Kind: ControlStartWrite, Meta: meta}
}

func WriteChunk(chunk ChunkMeta, data []byte) ControlMessage {
	return ControlMessage{Kind: ControlWrite, Chunk: chunk, Data: data}
}

func StartRead() ControlMessage {
	return ControlMessage{Kind: ControlStartRead}
}

func ReadReceive(nextStart uint32) ControlMessage {
	return ControlMessage{Kind: ControlReadReceive, NextStart: nextStart}
}

func ReadFinish() ControlMessage {
	return ControlMessage{Kind: ControlReadFinish}
}

// NotifyMessage is one decoded notification. Raw keeps the undecoded frame
// for NotifyUnknown so foreign traffic can be inspected.
type NotifyMessage struct {
	Kind      NotifyKind
	ID        TransferID   // WriteReady, WriteReceive, WriteFinish
	MTU       uint16       // WriteReady
	NextStart uint32       // WriteReceive
	Meta      TransferMeta // ReadReady
	Message   string       // Error
	Raw       []byte
}

// Codec encodes and decodes both directions of the control protocol. The
// first byte of every frame is the kind tag; integers follow in Order.
type Codec struct {
	Order ByteOrder
}

// NewCodec returns a codec using order, little endian when nil.
func NewCodec(order ByteOrder) *Codec {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Codec{Order: order}
}

// ParseByteOrder maps a configuration name to a ByteOrder.
func ParseByteOrder(name string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "little", "le", "little_endian":
		return binary.LittleEndian, nil
	case "big", "be", "big_endian":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q", name)
	}
}

// EncodeControl renders an outbound control frame.
func (c *Codec) EncodeControl(msg ControlMessage) ([]byte, error) {
	switch msg.Kind {
	case ControlStartWrite:
		buf := make([]byte, 0, 1+TransferMetaLen)
		buf = append(buf, byte(ControlStartWrite))
		return msg.Meta.appendTo(buf, c.Order), nil
	case ControlWrite:
		if int(msg.Chunk.ChunkSize) != len(msg.Data) {
			return nil, fmt.Errorf("write chunk declares %d bytes but carries %d", msg.Chunk.ChunkSize, len(msg.Data))
		}
		buf := make([]byte, 0, 1+ChunkMetaLen+len(msg.Data))
		buf = append(buf, byte(ControlWrite))
		buf = msg.Chunk.appendTo(buf, c.Order)
		return append(buf, msg.Data...), nil
	case ControlStartRead, ControlReadFinish:
		return []byte{byte(msg.Kind)}, nil
	case ControlReadReceive:
		return c.Order.AppendUint32([]byte{byte(ControlReadReceive)}, msg.NextStart), nil
	default:
		return nil, fmt.Errorf("cannot encode %s", msg.Kind)
	}
}

// DecodeControl parses a frame written by a controller. It serves the
// peripheral side of the protocol.
func (c *Codec) DecodeControl(frame []byte) (ControlMessage, error) {
	if len(frame) == 0 {
		return ControlMessage{}, fmt.Errorf("%w: empty control frame", ErrShortFrame)
	}
	kind, body := ControlKind(frame[0]), frame[1:]
	switch kind {
	case ControlStartWrite:
		meta, _, err := decodeTransferMeta(body, c.Order)
		if err != nil {
			return ControlMessage{}, err
		}
		return StartWrite(meta), nil
	case ControlWrite:
		chunk, data, err := decodeChunkMeta(body, c.Order)
		if err != nil {
			return ControlMessage{}, err
		}
		if uint32(len(data)) != chunk.ChunkSize {
			return ControlMessage{}, fmt.Errorf("%w: chunk declares %d bytes, frame carries %d", ErrShortFrame, chunk.ChunkSize, len(data))
		}
		return WriteChunk(chunk, data), nil
	case ControlStartRead:
		return StartRead(), nil
	case ControlReadReceive:
		if len(body) < 4 {
			return ControlMessage{}, fmt.Errorf("%w: read_receive body", ErrShortFrame)
		}
		return ReadReceive(c.Order.Uint32(body)), nil
	case ControlReadFinish:
		return ReadFinish(), nil
	default:
		return ControlMessage{}, fmt.Errorf("unknown control tag 0x%02x", frame[0])
	}
}

// EncodeNotify renders a notification frame. It serves the peripheral side
// of the protocol.
func (c *Codec) EncodeNotify(msg NotifyMessage) ([]byte, error) {
	buf := []byte{byte(msg.Kind)}
	switch msg.Kind {
	case NotifyWriteReady:
		buf = c.Order.AppendUint32(buf, uint32(msg.ID))
		return c.Order.AppendUint16(buf, msg.MTU), nil
	case NotifyWriteReceive:
		buf = c.Order.AppendUint32(buf, uint32(msg.ID))
		return c.Order.AppendUint32(buf, msg.NextStart), nil
	case NotifyWriteFinish:
		return c.Order.AppendUint32(buf, uint32(msg.ID)), nil
	case NotifyReadReady:
		return msg.Meta.appendTo(buf, c.Order), nil
	case NotifyDataUpdate:
		return buf, nil
	case NotifyError:
		return append(buf, msg.Message...), nil
	default:
		return nil, fmt.Errorf("cannot encode %s notification", msg.Kind)
	}
}

// DecodeNotify parses a notification frame. Frames with an unrecognised tag
// decode to NotifyUnknown without error; other sub-protocols share the
// characteristic.
func (c *Codec) DecodeNotify(frame []byte) (NotifyMessage, error) {
	if len(frame) == 0 {
		return NotifyMessage{Kind: NotifyUnknown}, nil
	}
	kind, body := NotifyKind(frame[0]), frame[1:]
	switch kind {
	case NotifyWriteReady:
		if len(body) < 6 {
			return NotifyMessage{}, fmt.Errorf("%w: write_ready body", ErrShortFrame)
		}
		return NotifyMessage{
			Kind: kind,
			ID:   TransferID(c.Order.Uint32(body[0:4])),
			MTU:  c.Order.Uint16(body[4:6]),
		}, nil
	case NotifyWriteReceive:
		if len(body) < 8 {
			return NotifyMessage{}, fmt.Errorf("%w: write_receive body", ErrShortFrame)
		}
		return NotifyMessage{
			Kind:      kind,
			ID:        TransferID(c.Order.Uint32(body[0:4])),
			NextStart: c.Order.Uint32(body[4:8]),
		}, nil
	case NotifyWriteFinish:
		if len(body) < 4 {
			return NotifyMessage{}, fmt.Errorf("%w: write_finish body", ErrShortFrame)
		}
		return NotifyMessage{Kind: kind, ID: TransferID(c.Order.Uint32(body[0:4]))}, nil
	case NotifyReadReady:
		meta, _, err := decodeTransferMeta(body, c.Order)
		if err != nil {
			return NotifyMessage{}, err
		}
		return NotifyMessage{Kind: kind, ID: meta.ID, Meta: meta}, nil
	case NotifyDataUpdate:
		return NotifyMessage{Kind: kind}, nil
	case NotifyError:
		return NotifyMessage{Kind: kind, Message: string(body)}, nil
	default:
		raw := make([]byte, len(frame))
		copy(raw, frame)
		return NotifyMessage{Kind: NotifyUnknown, Raw: raw}, nil
	}
}

// EncodeChunk renders the body of a raw characteristic read during a
// transfer: a ChunkMeta header followed by the chunk bytes.
func (c *Codec) EncodeChunk(meta ChunkMeta, data []byte) []byte {
	buf := make([]byte, 0, ChunkMetaLen+len(data))
	buf = meta.appendTo(buf, c.Order)
	return append(buf, data...)
}

// DecodeChunk splits a raw read into its header and chunk bytes.
func (c *Codec) DecodeChunk(b []byte) (ChunkMeta, []byte, error) {
	meta, data, err := decodeChunkMeta(b, c.Order)
	if err != nil {
		return ChunkMeta{}, nil, err
	}
	if uint32(len(data)) != meta.ChunkSize {
		return ChunkMeta{}, nil, fmt.Errorf("%w: chunk declares %d bytes, read returned %d", ErrShortFrame, meta.ChunkSize, len(data))
	}
	return meta, data, nil
}
