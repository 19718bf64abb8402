package manager

import (
	"context"
	"encoding/json"

	"github.com/rescp17/ledBridge/pkg/led"
)

// The commands below look up a connected device and run one operation on
// it. Each operation holds the device's guard, so commands for the same
// device queue while other devices proceed.

func (m *Manager) Control(ctx context.Context, id string, cmd led.Command) error {
	l, err := m.Led(id)
	if err != nil {
		return err
	}
	return l.Control(ctx, cmd)
}

func (m *Manager) GetState(ctx context.Context, id string) (string, error) {
	l, err := m.Led(id)
	if err != nil {
		return "", err
	}
	return l.GetState(ctx)
}

func (m *Manager) SetScene(ctx context.Context, id string, scene led.Scene) error {
	l, err := m.Led(id)
	if err != nil {
		return err
	}
	return l.SetScene(ctx, scene)
}

func (m *Manager) GetScene(ctx context.Context, id string) (led.Scene, error) {
	l, err := m.Led(id)
	if err != nil {
		return led.Scene{}, err
	}
	return l.GetScene(ctx)
}

func (m *Manager) SetTimer(ctx context.Context, id string, tasks json.RawMessage) error {
	l, err := m.Led(id)
	if err != nil {
		return err
	}
	return l.SetTimer(ctx, tasks)
}

func (m *Manager) GetTimeTasks(ctx context.Context, id string) (json.RawMessage, error) {
	l, err := m.Led(id)
	if err != nil {
		return nil, err
	}
	return l.GetTimeTasks(ctx)
}

func (m *Manager) WriteValue(ctx context.Context, id string, value json.RawMessage) error {
	l, err := m.Led(id)
	if err != nil {
		return err
	}
	return l.WriteValue(ctx, value)
}

func (m *Manager) ReadValue(ctx context.Context, id string) (json.RawMessage, error) {
	l, err := m.Led(id)
	if err != nil {
		return nil, err
	}
	return l.ReadValue(ctx)
}
