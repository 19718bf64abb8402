package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// StatusManager tracks the status of every transfer the engines run.
// It implements Observer so it can be attached to an Engine directly, and
// keeps up to Config.MaxHistoryRecords finished transfers for inspection.
type StatusManager struct {
	// transfers maps transfer ids to their current status
	transfers map[TransferID]*TransferStatus

	// history lists finished transfers, oldest first
	history []TransferID
	// seq orders transfers by start
	seq uint64

	config *Config

	mu sync.RWMutex
}

// NewStatusManager creates a StatusManager with default configuration
func NewStatusManager() *StatusManager {
	return NewStatusManagerWithConfig(DefaultConfig())
}

// NewStatusManagerWithConfig creates a StatusManager with custom configuration
func NewStatusManagerWithConfig(config *Config) *StatusManager {
	if config == nil {
		config = DefaultConfig()
	}

	return &StatusManager{
		transfers: make(map[TransferID]*TransferStatus),
		config:    config,
	}
}

// GetConfig returns a copy of the current configuration
func (sm *StatusManager) GetConfig() *Config {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	configCopy := *sm.config
	return &configCopy
}

// UpdateConfig updates the manager's configuration
// Returns an error if the new configuration is invalid
func (sm *StatusManager) UpdateConfig(config *Config) error {
	if config == nil {
		return ErrInvalidConfiguration
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	sm.mu.Lock()
	sm.config = config
	sm.mu.Unlock()
	return nil
}

// StartTransfer begins tracking a transfer in the pending state
func (sm *StatusManager) StartTransfer(info TransferInfo) (*TransferStatus, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.transfers[info.ID]; exists {
		return nil, ErrTransferAlreadyExists
	}

	if sm.getNonTerminalTransferCountUnsafe() >= sm.config.MaxConcurrentTransfers {
		return nil, ErrMaxTransfersExceeded
	}

	now := time.Now()
	sm.seq++
	status := &TransferStatus{
		seq:            sm.seq,
		ID:             info.ID,
		Device:         info.Device,
		Endpoint:       info.Endpoint,
		Direction:      info.Direction,
		State:          TransferStatePending,
		TotalBytes:     int64(info.TotalSize),
		MTU:            int(info.MTU),
		StartTime:      now,
		LastUpdateTime: now,
	}
	sm.transfers[info.ID] = status

	statusCopy := *status
	return &statusCopy, nil
}

// ActivateTransfer moves a pending transfer to active
func (sm *StatusManager) ActivateTransfer(id TransferID) error {
	return sm.transition(id, TransferStateActive, nil)
}

// GetTransferStatus retrieves the current status of a transfer
// Returns ErrTransferNotFound if the transfer doesn't exist
func (sm *StatusManager) GetTransferStatus(id TransferID) (*TransferStatus, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status, exists := sm.transfers[id]
	if !exists {
		return nil, ErrTransferNotFound
	}

	statusCopy := *status
	return &statusCopy, nil
}

// GetAllTransfers returns copies of all tracked transfers, oldest first
func (sm *StatusManager) GetAllTransfers() []*TransferStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	transfers := make([]*TransferStatus, 0, len(sm.transfers))
	for _, status := range sm.transfers {
		statusCopy := *status
		transfers = append(transfers, &statusCopy)
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].seq < transfers[j].seq
	})

	return transfers
}

// UpdateProgress records that bytesDone bytes of the transfer have moved
func (sm *StatusManager) UpdateProgress(id TransferID, bytesDone int64) error {
	if bytesDone < 0 {
		return fmt.Errorf("bytes done cannot be negative")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	status, exists := sm.transfers[id]
	if !exists {
		return ErrTransferNotFound
	}
	if status.State.IsTerminal() {
		return fmt.Errorf("%w: transfer %s is %s", ErrInvalidStateTransition, id, status.State)
	}
	if bytesDone < status.BytesDone {
		return fmt.Errorf("bytes done cannot decrease from %d to %d", status.BytesDone, bytesDone)
	}
	if bytesDone > status.TotalBytes {
		return fmt.Errorf("bytes done (%d) cannot exceed total size (%d)", bytesDone, status.TotalBytes)
	}

	status.updateProgress(bytesDone, status.Chunks+1)
	return nil
}

// CompleteTransfer marks a transfer as completed
func (sm *StatusManager) CompleteTransfer(id TransferID) error {
	return sm.transition(id, TransferStateCompleted, nil)
}

// FailTransfer marks a transfer as failed with the given error
func (sm *StatusManager) FailTransfer(id TransferID, transferError error) error {
	return sm.transition(id, TransferStateFailed, transferError)
}

// CancelTransfer marks a transfer as cancelled
func (sm *StatusManager) CancelTransfer(id TransferID) error {
	return sm.transition(id, TransferStateCancelled, context.Canceled)
}

func (sm *StatusManager) transition(id TransferID, to TransferState, cause error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	status, exists := sm.transfers[id]
	if !exists {
		return ErrTransferNotFound
	}

	if !status.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: cannot transition from %s to %s",
			ErrInvalidStateTransition, status.State, to)
	}

	now := time.Now()
	status.State = to
	status.LastUpdateTime = now
	if cause != nil {
		status.LastError = cause.Error()
	}
	if to.IsTerminal() {
		status.CompletionTime = &now
		if to == TransferStateCompleted {
			status.BytesDone = status.TotalBytes
		}
		sm.history = append(sm.history, id)
		sm.pruneHistoryUnsafe()
	}
	return nil
}

// RemoveTransfer removes a finished transfer from tracking
// Returns an error if the transfer doesn't exist or is still running
func (sm *StatusManager) RemoveTransfer(id TransferID) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	status, exists := sm.transfers[id]
	if !exists {
		return ErrTransferNotFound
	}

	if !status.State.IsTerminal() {
		return fmt.Errorf("cannot remove running transfer (current state: %s)", status.State)
	}

	delete(sm.transfers, id)
	sm.history = slices.DeleteFunc(sm.history, func(h TransferID) bool { return h == id })
	return nil
}

// GetOverallProgress aggregates progress across all transfers
func (sm *StatusManager) GetOverallProgress() *OverallProgress {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	progress := &OverallProgress{}
	for _, status := range sm.transfers {
		progress.TotalTransfers++
		progress.TotalBytes += status.TotalBytes
		progress.BytesDone += status.BytesDone

		switch status.State {
		case TransferStatePending, TransferStateActive:
			progress.ActiveTransfers++
		case TransferStateCompleted:
			progress.CompletedTransfers++
		case TransferStateFailed:
			progress.FailedTransfers++
		case TransferStateCancelled:
			progress.CancelledTransfers++
		}
	}
	return progress
}

// GetActiveTransferCount returns the number of running transfers
func (sm *StatusManager) GetActiveTransferCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.getNonTerminalTransferCountUnsafe()
}

// GetTransferCount returns the total number of transfers being tracked
func (sm *StatusManager) GetTransferCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.transfers)
}

// Clear removes all transfers from the manager
func (sm *StatusManager) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.transfers = make(map[TransferID]*TransferStatus)
	sm.history = nil
}

// getNonTerminalTransferCountUnsafe assumes the caller holds the lock
func (sm *StatusManager) getNonTerminalTransferCountUnsafe() int {
	count := 0
	for _, status := range sm.transfers {
		if !status.State.IsTerminal() {
			count++
		}
	}
	return count
}

// pruneHistoryUnsafe drops the oldest finished transfers beyond the history
// limit. The caller must hold the write lock.
func (sm *StatusManager) pruneHistoryUnsafe() {
	for len(sm.history) > sm.config.MaxHistoryRecords {
		delete(sm.transfers, sm.history[0])
		sm.history = sm.history[1:]
	}
}

// TransferStarted implements Observer.
func (sm *StatusManager) TransferStarted(info TransferInfo) {
	if _, err := sm.StartTransfer(info); err != nil {
		return
	}
	_ = sm.ActivateTransfer(info.ID)
}

// ChunkTransferred implements Observer.
func (sm *StatusManager) ChunkTransferred(info TransferInfo, chunk ChunkMeta) {
	_ = sm.UpdateProgress(info.ID, int64(chunk.End()))
}

// TransferFinished implements Observer.
func (sm *StatusManager) TransferFinished(info TransferInfo, err error) {
	switch {
	case err == nil:
		_ = sm.CompleteTransfer(info.ID)
	case errors.Is(err, context.Canceled):
		_ = sm.CancelTransfer(info.ID)
	default:
		_ = sm.FailTransfer(info.ID, err)
	}
}
