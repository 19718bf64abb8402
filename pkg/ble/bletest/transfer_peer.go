package bletest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

var errNoReadInProgress = errors.New("bletest: no read in progress")

// TransferPeer is the peripheral half of the chunked transfer protocol for
// one characteristic. It stores the last complete document written to it
// and serves it back to readers.
type TransferPeer struct {
	codec *transfer.Codec
	mtu   uint16

	mu       sync.Mutex
	value    []byte
	incoming *transfer.Reassembler
	outgoing *outgoingRead
	onStore  func([]byte)
}

type outgoingRead struct {
	meta transfer.TransferMeta
	data []byte
	next uint32
}

var _ Handler = (*TransferPeer)(nil)

// NewTransferPeer serves value over frames of at most mtu bytes after the tag.
func NewTransferPeer(codec *transfer.Codec, mtu uint16, value []byte) *TransferPeer {
	return &TransferPeer{
		codec: codec,
		mtu:   mtu,
		value: append([]byte(nil), value...),
	}
}

// OnStore is called with every completely received document.
func (t *TransferPeer) OnStore(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStore = fn
}

func (t *TransferPeer) Value() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.value...)
}

func (t *TransferPeer) SetValue(v []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = append([]byte(nil), v...)
}

func (t *TransferPeer) notify(notify NotifyFunc, msg transfer.NotifyMessage) {
	frame, err := t.codec.EncodeNotify(msg)
	if err != nil {
		panic(fmt.Sprintf("bletest: encode %s: %v", msg.Kind, err))
	}
	notify(frame)
}

func (t *TransferPeer) fail(notify NotifyFunc, format string, args ...any) {
	t.incoming = nil
	t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyError, Message: fmt.Sprintf(format, args...)})
}

func (t *TransferPeer) OnWrite(data []byte, _ ble.WriteMode, notify NotifyFunc) error {
	msg, err := t.codec.DecodeControl(data)

	t.mu.Lock()
	var stored []byte
	var onStore func([]byte)
	defer func() {
		t.mu.Unlock()
		if stored != nil && onStore != nil {
			onStore(stored)
		}
	}()

	if err != nil {
		t.fail(notify, "bad control frame: %v", err)
		return nil
	}
	if len(data)-1 > int(t.mtu) {
		t.fail(notify, "frame of %d bytes exceeds mtu %d", len(data)-1, t.mtu)
		return nil
	}

	switch msg.Kind {
	case transfer.ControlStartWrite:
		r, err := transfer.NewReassembler(msg.Meta, 0)
		if err != nil {
			t.fail(notify, "%v", err)
			return nil
		}
		t.incoming = r
		t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyWriteReady, ID: msg.Meta.ID, MTU: t.mtu})

	case transfer.ControlWrite:
		if t.incoming == nil {
			t.fail(notify, "write without start")
			return nil
		}
		if err := t.incoming.Add(msg.Chunk, msg.Data); err != nil {
			t.fail(notify, "%v", err)
			return nil
		}
		id := t.incoming.Meta().ID
		if t.incoming.Complete() {
			t.value = append([]byte(nil), t.incoming.Bytes()...)
			t.incoming = nil
			stored, onStore = append([]byte(nil), t.value...), t.onStore
			t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyWriteFinish, ID: id})
			return nil
		}
		t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyWriteReceive, ID: id, NextStart: t.incoming.Next()})

	case transfer.ControlStartRead:
		meta := transfer.TransferMeta{ID: transfer.NewTransferID(), TotalSize: uint32(len(t.value))}
		t.outgoing = &outgoingRead{meta: meta, data: append([]byte(nil), t.value...)}
		t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyReadReady, ID: meta.ID, Meta: meta})

	case transfer.ControlReadReceive:
		if t.outgoing == nil {
			t.fail(notify, "read receive without start")
			return nil
		}
		t.outgoing.next = msg.NextStart

	case transfer.ControlReadFinish:
		t.outgoing = nil
	}
	return nil
}

// OnRead serves the chunk at the reader's cursor.
func (t *TransferPeer) OnRead() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outgoing == nil {
		return nil, errNoReadInProgress
	}

	o := t.outgoing
	remaining := len(o.data) - int(o.next)
	if remaining < 0 {
		return nil, fmt.Errorf("bletest: read cursor %d past end %d", o.next, len(o.data))
	}
	size, err := transfer.ChunkSize(t.mtu, transfer.ChunkMetaLen, remaining)
	if err != nil {
		return nil, err
	}
	chunk := transfer.ChunkMeta{ID: o.meta.ID, Start: o.next, ChunkSize: uint32(size)}
	return t.codec.EncodeChunk(chunk, o.data[o.next:o.next+uint32(size)]), nil
}

// Changed tells subscribers the stored document changed.
func (t *TransferPeer) Changed(notify NotifyFunc) {
	t.notify(notify, transfer.NotifyMessage{Kind: transfer.NotifyDataUpdate})
}
