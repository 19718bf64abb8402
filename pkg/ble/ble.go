// Package ble is the platform boundary: a Central that scans and connects,
// and a Peripheral exposing raw GATT read, write and notify by
// characteristic UUID.
package ble

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotConnected           = errors.New("ble: peripheral not connected")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrDeviceNotFound         = errors.New("ble: device not found")
	ErrAdapterDisabled        = errors.New("ble: adapter not enabled")
	ErrScanInProgress         = errors.New("ble: scan already in progress")
	ErrHubClosed              = errors.New("ble: notification hub closed")
)

// WriteMode selects an acknowledged or unacknowledged GATT write.
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

func (m WriteMode) String() string {
	if m == WithoutResponse {
		return "without_response"
	}
	return "with_response"
}

// Notification is one value pushed by the peripheral on a characteristic.
type Notification struct {
	Characteristic uuid.UUID
	Value          []byte
}

// Peripheral is a connected device. Every notification of every subscribed
// characteristic is delivered to every open Notifications channel.
type Peripheral interface {
	ID() string
	Name() string
	IsConnected() bool

	// Subscribe enables notifications on char. Subscribing twice is a no-op.
	Subscribe(ctx context.Context, char uuid.UUID) error
	Write(ctx context.Context, char uuid.UUID, data []byte, mode WriteMode) error
	Read(ctx context.Context, char uuid.UUID) ([]byte, error)

	// Notifications opens a stream that stays open until ctx is done or the
	// peripheral disconnects, then closes.
	Notifications(ctx context.Context) (<-chan Notification, error)

	Disconnect() error
}

// Advertisement is what a scan reports about a nearby device.
type Advertisement struct {
	Address   string      `json:"address"`
	LocalName string      `json:"local_name"`
	RSSI      int16       `json:"rssi"`
	Services  []uuid.UUID `json:"services,omitempty"`
}

// ScanFilter narrows scan results. Empty fields match everything.
type ScanFilter struct {
	Services   []uuid.UUID
	NamePrefix string
}

func (f ScanFilter) Match(ad Advertisement) bool {
	if f.NamePrefix != "" && !strings.HasPrefix(ad.LocalName, f.NamePrefix) {
		return false
	}
	if len(f.Services) == 0 {
		return true
	}
	for _, s := range f.Services {
		if slices.Contains(ad.Services, s) {
			return true
		}
	}
	return false
}

// AdapterInfo describes the local radio.
type AdapterInfo struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	Backend string `json:"backend"`
}

// Central is the local adapter.
type Central interface {
	Enable(ctx context.Context) error
	Info() AdapterInfo

	// Scan reports matching advertisements to fn until ctx is done or
	// StopScan is called.
	Scan(ctx context.Context, filter ScanFilter, fn func(Advertisement)) error
	StopScan() error

	Connect(ctx context.Context, address string) (Peripheral, error)
}
