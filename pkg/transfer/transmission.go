package transfer

import (
	"context"
)

// Transmission moves typed values of T over an Engine.
type Transmission[T any] struct {
	engine     *Engine
	serializer Serializer
}

// NewTransmission uses JSON when serializer is nil.
func NewTransmission[T any](engine *Engine, serializer Serializer) *Transmission[T] {
	if serializer == nil {
		serializer = NewJSONSerializer()
	}
	return &Transmission[T]{engine: engine, serializer: serializer}
}

func (t *Transmission[T]) Engine() *Engine {
	return t.engine
}

func (t *Transmission[T]) WriteValue(ctx context.Context, value T) error {
	data, err := t.serializer.Marshal(value)
	if err != nil {
		return &SerializationError{Op: "write_value", Err: err}
	}
	return t.engine.Send(ctx, data)
}

func (t *Transmission[T]) ReadValue(ctx context.Context) (T, error) {
	var value T
	data, err := t.engine.Receive(ctx)
	if err != nil {
		return value, err
	}
	if err := t.serializer.Unmarshal(data, &value); err != nil {
		return value, &SerializationError{Op: "read_value", Err: err}
	}
	return value, nil
}
