package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
)

// Endpoint is the part of a peripheral an Engine drives.
type Endpoint interface {
	Subscribe(ctx context.Context, char uuid.UUID) error
	Write(ctx context.Context, char uuid.UUID, data []byte, mode ble.WriteMode) error
	Read(ctx context.Context, char uuid.UUID) ([]byte, error)
	Notifications(ctx context.Context) (<-chan ble.Notification, error)
}

// TransferInfo identifies one run of Send or Receive for observers. ID and
// TotalSize are zero until the handshake has produced them.
type TransferInfo struct {
	ID        TransferID
	Device    string
	Endpoint  string
	Direction Direction
	TotalSize uint32
	MTU       uint16
}

// Observer is told about transfer progress. Calls are made synchronously
// from the transferring goroutine and must not block.
type Observer interface {
	TransferStarted(info TransferInfo)
	ChunkTransferred(info TransferInfo, chunk ChunkMeta)
	TransferFinished(info TransferInfo, err error)
}

// Engine runs chunked transfers over one characteristic. It keeps no state
// between calls; callers serialise calls per device.
type Engine struct {
	endpoint  Endpoint
	char      uuid.UUID
	name      string
	device    string
	config    *Config
	codec     *Codec
	observers []Observer
	log       *slog.Logger
}

type Option func(*Engine)

func WithConfig(config *Config) Option {
	return func(e *Engine) { e.config = config }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithDevice names the device in logs and observer events.
func WithDevice(name string) Option {
	return func(e *Engine) { e.device = name }
}

// WithEndpointName labels the characteristic in logs and observer events.
// The characteristic UUID is used when unset.
func WithEndpointName(name string) Option {
	return func(e *Engine) { e.name = name }
}

func NewEngine(endpoint Endpoint, char uuid.UUID, opts ...Option) (*Engine, error) {
	e := &Engine{endpoint: endpoint, char: char}
	for _, opt := range opts {
		opt(e)
	}
	if e.config == nil {
		e.config = DefaultConfig()
	}
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	codec, err := e.config.Codec()
	if err != nil {
		return nil, err
	}
	e.codec = codec
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.name == "" {
		e.name = char.String()
	}
	e.log = e.log.With("device", e.device, "endpoint", e.name)
	return e, nil
}

func (e *Engine) Characteristic() uuid.UUID {
	return e.char
}

func (e *Engine) Codec() *Codec {
	return e.codec
}

// Send delivers payload and returns once the peer acknowledged every byte
// with WriteFinish.
func (e *Engine) Send(ctx context.Context, payload []byte) (err error) {
	const op = "send"

	if len(payload) > e.config.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrPayloadTooLarge, len(payload), e.config.MaxPayloadSize)
	}
	chunker, err := NewChunker(NewTransferID(), payload, e.config.ControlOverhead)
	if err != nil {
		return err
	}
	meta := chunker.Meta()
	info := TransferInfo{
		ID:        meta.ID,
		Device:    e.device,
		Endpoint:  e.name,
		Direction: DirectionSend,
		TotalSize: meta.TotalSize,
	}
	log := e.log.With("transfer_id", meta.ID.String(), "direction", DirectionSend)
	started := time.Now()
	defer func() { e.finish(log, info, started, err) }()

	stream, stop, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	if err := e.write(ctx, op, StartWrite(meta)); err != nil {
		return err
	}

	ready, err := e.await(ctx, stream, op, func(msg NotifyMessage) (bool, error) {
		switch msg.Kind {
		case NotifyError:
			return false, peerError(op, msg)
		case NotifyWriteReady:
			if msg.ID != meta.ID {
				return false, protocolErrorf(op, "write ready id not match: expected %s, got %s", meta.ID, msg.ID)
			}
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	info.MTU = ready.MTU
	log.Debug("Peer ready for write", "mtu", ready.MTU, "total", meta.TotalSize)
	for _, o := range e.observers {
		o.TransferStarted(info)
	}

	for {
		chunk, err := chunker.Next(ready.MTU)
		if err != nil {
			return &ProtocolError{Op: op, Reason: "cannot size chunk", Err: err}
		}
		if err := e.write(ctx, op, WriteChunk(chunk.Meta, chunk.Data)); err != nil {
			return err
		}

		ack, err := e.await(ctx, stream, op, e.ackFilter(op, meta.ID))
		if err != nil {
			return err
		}

		switch ack.Kind {
		case NotifyWriteReceive:
			if ack.NextStart != chunk.Meta.End() {
				return protocolErrorf(op, "peer acknowledged up to %d, chunk ended at %d", ack.NextStart, chunk.Meta.End())
			}
			e.chunkDone(info, chunk.Meta)
			log.Debug("Chunk acknowledged", "seq", chunk.SequenceNo, "next_start", ack.NextStart)
			if !chunk.IsLast {
				continue
			}
			// Everything is acknowledged; only WriteFinish may follow.
			fin, err := e.await(ctx, stream, op, e.ackFilter(op, meta.ID))
			if err != nil {
				return err
			}
			if fin.Kind != NotifyWriteFinish {
				return protocolErrorf(op, "expected write finish after last chunk, got %s", fin.Kind)
			}
			return nil

		case NotifyWriteFinish:
			if !chunk.IsLast {
				return protocolErrorf(op, "write finished at %d of %d bytes", chunk.Meta.End(), meta.TotalSize)
			}
			e.chunkDone(info, chunk.Meta)
			return nil
		}
	}
}

// ackFilter accepts WriteReceive and WriteFinish for id. Unknown frames are
// skipped; any other transfer message aborts.
func (e *Engine) ackFilter(op string, id TransferID) func(NotifyMessage) (bool, error) {
	return func(msg NotifyMessage) (bool, error) {
		switch msg.Kind {
		case NotifyUnknown:
			return false, nil
		case NotifyError:
			return false, peerError(op, msg)
		case NotifyWriteReceive, NotifyWriteFinish:
			if msg.ID != id {
				return false, protocolErrorf(op, "%s id not match: expected %s, got %s", msg.Kind, id, msg.ID)
			}
			return true, nil
		default:
			return false, protocolErrorf(op, "unexpected %s while writing", msg.Kind)
		}
	}
}

// Receive pulls the peer's current payload.
func (e *Engine) Receive(ctx context.Context) (payload []byte, err error) {
	const op = "receive"

	info := TransferInfo{
		Device:    e.device,
		Endpoint:  e.name,
		Direction: DirectionReceive,
	}
	log := e.log.With("direction", DirectionReceive)
	started := time.Now()
	defer func() { e.finish(log, info, started, err) }()

	stream, stop, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	if err := e.write(ctx, op, StartRead()); err != nil {
		return nil, err
	}

	ready, err := e.await(ctx, stream, op, func(msg NotifyMessage) (bool, error) {
		switch msg.Kind {
		case NotifyError:
			return false, peerError(op, msg)
		case NotifyReadReady:
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	// The read loop is driven by raw reads; release the hub.
	stop()

	meta := ready.Meta
	info.ID, info.TotalSize = meta.ID, meta.TotalSize
	log = log.With("transfer_id", meta.ID.String())
	log.Debug("Peer ready for read", "total", meta.TotalSize)

	r, err := NewReassembler(meta, e.config.MaxPayloadSize)
	if err != nil {
		// Release the peer from its read state before giving up.
		if ferr := e.write(ctx, op, ReadFinish()); ferr != nil {
			log.Warn("Failed to finish rejected read", "error", ferr)
		}
		return nil, &ProtocolError{Op: op, Reason: "announced size rejected", Err: err}
	}
	for _, o := range e.observers {
		o.TransferStarted(info)
	}

	for {
		raw, err := e.read(ctx, op)
		if err != nil {
			return nil, err
		}
		chunk, data, err := e.codec.DecodeChunk(raw)
		if err != nil {
			return nil, &ProtocolError{Op: op, Reason: "malformed chunk", Err: err}
		}
		if err := r.Add(chunk, data); err != nil {
			return nil, err
		}
		e.chunkDone(info, chunk)

		if r.Complete() {
			if err := e.write(ctx, op, ReadFinish()); err != nil {
				return nil, err
			}
			return r.Bytes(), nil
		}
		if err := e.write(ctx, op, ReadReceive(r.Next())); err != nil {
			return nil, err
		}
	}
}

// open subscribes the characteristic and opens a notification stream that
// lives until stop is called.
func (e *Engine) open(ctx context.Context) (<-chan ble.Notification, context.CancelFunc, error) {
	if err := e.endpoint.Subscribe(ctx, e.char); err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", e.char, err)
	}
	streamCtx, stop := context.WithCancel(ctx)
	stream, err := e.endpoint.Notifications(streamCtx)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("open notifications: %w", err)
	}
	return stream, stop, nil
}

// await consumes notifications for this characteristic until accept
// reports done or an error.
func (e *Engine) await(ctx context.Context, stream <-chan ble.Notification, op string, accept func(NotifyMessage) (bool, error)) (NotifyMessage, error) {
	var timeout <-chan time.Time
	if e.config.NotifyTimeout > 0 {
		timer := time.NewTimer(e.config.NotifyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return NotifyMessage{}, ctx.Err()
		case <-timeout:
			return NotifyMessage{}, fmt.Errorf("%s: %w: no notification within %s", op, ErrTimeout, e.config.NotifyTimeout)
		case n, ok := <-stream:
			if !ok {
				if err := ctx.Err(); err != nil {
					return NotifyMessage{}, err
				}
				return NotifyMessage{}, fmt.Errorf("%s: %w", op, ErrNoDataReceived)
			}
			if n.Characteristic != e.char {
				continue
			}
			msg, err := e.codec.DecodeNotify(n.Value)
			if err != nil {
				return NotifyMessage{}, &ProtocolError{Op: op, Reason: "malformed notification", Err: err}
			}
			done, err := accept(msg)
			if err != nil {
				return NotifyMessage{}, err
			}
			if done {
				return msg, nil
			}
		}
	}
}

func (e *Engine) write(ctx context.Context, op string, msg ControlMessage) error {
	frame, err := e.codec.EncodeControl(msg)
	if err != nil {
		return err
	}
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	if err := e.endpoint.Write(ioCtx, e.char, frame, ble.WithResponse); err != nil {
		return e.ioError(ctx, op, "write "+msg.Kind.String(), err)
	}
	return nil
}

func (e *Engine) read(ctx context.Context, op string) ([]byte, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	raw, err := e.endpoint.Read(ioCtx, e.char)
	if err != nil {
		return nil, e.ioError(ctx, op, "read chunk", err)
	}
	return raw, nil
}

func (e *Engine) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.IOTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.IOTimeout)
}

func (e *Engine) ioError(ctx context.Context, op, what string, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %s: %w after %s", op, what, ErrTimeout, e.config.IOTimeout)
	}
	return fmt.Errorf("%s: %s: %w", op, what, err)
}

func (e *Engine) chunkDone(info TransferInfo, chunk ChunkMeta) {
	for _, o := range e.observers {
		o.ChunkTransferred(info, chunk)
	}
}

func (e *Engine) finish(log *slog.Logger, info TransferInfo, started time.Time, err error) {
	elapsed := time.Since(started)
	if err != nil {
		log.Warn("Transfer failed", "error", err, "result", ResultLabel(err), "elapsed", elapsed)
	} else {
		log.Debug("Transfer complete", "total", info.TotalSize, "elapsed", elapsed)
	}
	for _, o := range e.observers {
		o.TransferFinished(info, err)
	}
}

func peerError(op string, msg NotifyMessage) error {
	return &ProtocolError{Op: op, Reason: "peer aborted transfer", PeerMessage: msg.Message}
}

// ResultLabel classifies a transfer outcome for metrics and logs.
func ResultLabel(err error) string {
	var serr *SerializationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNoDataReceived):
		return "no_data"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.As(err, &serr):
		return "serialization_error"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	default:
		return "transport_error"
	}
}
