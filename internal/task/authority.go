package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satlink/sathub/internal/protocol"
)

// Sentinel errors for mutations rejected before any state change.
var (
	// ErrRoleMismatch is returned when the originating role is not allowed
	// to perform the operation.
	ErrRoleMismatch = errors.New("RoleMismatch")

	// ErrPayloadTooLarge is returned when custom_shared_data exceeds the
	// configured bound.
	ErrPayloadTooLarge = errors.New("PayloadTooLarge")
)

// Authority serialises all mutations of one group's DebugState. Writes take
// the exclusive lock so the version bump and field updates commit atomically;
// Snapshot takes the shared lock. Mutations are totally ordered by lock
// acquisition — there is no optimistic-concurrency failure mode, every legal
// mutation succeeds and produces a new version.
type Authority struct {
	mu             sync.RWMutex
	state          *DebugState
	maxCustomBytes int
}

// NewAuthority creates the authority for a new group. maxCustomBytes bounds
// the custom_shared_data blob attached to the debug note; zero or negative
// disables the bound.
func NewAuthority(taskID string, maxCustomBytes int) *Authority {
	return &Authority{
		state:          NewDebugState(taskID),
		maxCustomBytes: maxCustomBytes,
	}
}

// TaskID returns the immutable task this authority was created for.
func (a *Authority) TaskID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.TaskID
}

// Version returns the current state version.
func (a *Authority) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Version
}

// Snapshot returns a deep copy of the current state, safe to serialise and
// fan out after the call returns.
func (a *Authority) Snapshot() *DebugState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.clone()
}

// commit stamps the bookkeeping fields shared by every successful mutation
// and returns the new version. Callers hold the write lock.
func (a *Authority) commit(origin protocol.Role, now time.Time) uint64 {
	a.state.Version++
	a.state.LastUpdatedByRole = origin
	a.state.LastUpdateTime = now
	return a.state.Version
}

// ApplyUpdatePreCheckItem upserts the item and writes the site-side or
// control-side field pair depending on the originating role.
func (a *Authority) ApplyUpdatePreCheckItem(itemID, status string, notes *string, origin protocol.Role) (uint64, error) {
	if origin != protocol.RoleControlCenter && origin != protocol.RoleOnSiteMobile {
		return 0, fmt.Errorf("%w: role %q may not update pre-check items", ErrRoleMismatch, origin)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	item, ok := a.state.PreCheckItems[itemID]
	if !ok {
		item = &PreCheckItemStatus{ItemID: itemID}
		a.state.PreCheckItems[itemID] = item
	}
	if origin == protocol.RoleOnSiteMobile {
		item.StatusFromSite = &status
		item.NotesFromSite = notes
	} else {
		item.StatusFromControl = &status
		item.NotesFromControl = notes
	}
	item.LastUpdated = now
	return a.commit(origin, now), nil
}

// ApplyStartSingleTestStep records the command the control side issued for a
// step. Only ControlCenter may start steps.
func (a *Authority) ApplyStartSingleTestStep(stepID, command string, params json.RawMessage, origin protocol.Role) (uint64, error) {
	if origin != protocol.RoleControlCenter {
		return 0, fmt.Errorf("%w: only ControlCenter may start a test step", ErrRoleMismatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	step := a.stepLocked(stepID)
	step.CommandFromControl = &command
	if params != nil {
		step.ParamsFromControl = append(json.RawMessage(nil), params...)
	}
	step.LastUpdated = now
	return a.commit(origin, now), nil
}

// ApplyFeedbackSingleTestStep records the site-side execution outcome. Only
// OnSiteMobile may report feedback.
func (a *Authority) ApplyFeedbackSingleTestStep(stepID, executionStatus string, resultData json.RawMessage, notes *string, origin protocol.Role) (uint64, error) {
	if origin != protocol.RoleOnSiteMobile {
		return 0, fmt.Errorf("%w: only OnSiteMobile may report step feedback", ErrRoleMismatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	step := a.stepLocked(stepID)
	step.ExecutionStatusFromSite = &executionStatus
	if resultData != nil {
		step.ResultDataFromSite = append(json.RawMessage(nil), resultData...)
	}
	step.FeedbackNotesFromSite = notes
	step.LastUpdated = now
	return a.commit(origin, now), nil
}

// ApplyConfirmSingleTestStep records the control-side confirmation verdict.
// Only ControlCenter may confirm.
func (a *Authority) ApplyConfirmSingleTestStep(stepID, confirmationStatus string, origin protocol.Role) (uint64, error) {
	if origin != protocol.RoleControlCenter {
		return 0, fmt.Errorf("%w: only ControlCenter may confirm a test step", ErrRoleMismatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	step := a.stepLocked(stepID)
	step.ConfirmationStatusFromControl = &confirmationStatus
	step.LastUpdated = now
	return a.commit(origin, now), nil
}

// ApplyUpdateDebugNote replaces the free-form note and the custom blob.
// Either role may call; a nil blob clears any existing one.
func (a *Authority) ApplyUpdateDebugNote(newNote string, customData json.RawMessage, origin protocol.Role) (uint64, error) {
	if origin != protocol.RoleControlCenter && origin != protocol.RoleOnSiteMobile {
		return 0, fmt.Errorf("%w: role %q may not update the debug note", ErrRoleMismatch, origin)
	}
	if a.maxCustomBytes > 0 && len(customData) > a.maxCustomBytes {
		return 0, fmt.Errorf("%w: custom_shared_data is %d bytes, limit %d", ErrPayloadTooLarge, len(customData), a.maxCustomBytes)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	a.state.DebugNote = newNote
	if customData != nil {
		a.state.CustomSharedData = append(json.RawMessage(nil), customData...)
	} else {
		a.state.CustomSharedData = nil
	}
	return a.commit(origin, now), nil
}

// stepLocked returns the step record, creating it on first touch. Callers
// hold the write lock.
func (a *Authority) stepLocked(stepID string) *SingleTestStepStatus {
	step, ok := a.state.SingleTestSteps[stepID]
	if !ok {
		step = &SingleTestStepStatus{StepID: stepID}
		a.state.SingleTestSteps[stepID] = step
	}
	return step
}
