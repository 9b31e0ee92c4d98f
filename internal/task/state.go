// Package task holds the authoritative shared state of a debugging task and
// the mutation primitives the hub applies on behalf of group members.
package task

import (
	"encoding/json"
	"time"

	"github.com/satlink/sathub/internal/protocol"
)

// PreCheckItemStatus tracks one checklist item through the two-sided
// acknowledgement flow. Site and control each own their pair of fields.
type PreCheckItemStatus struct {
	ItemID            string    `json:"item_id"`
	StatusFromSite    *string   `json:"status_from_site"`
	NotesFromSite     *string   `json:"notes_from_site"`
	StatusFromControl *string   `json:"status_from_control"`
	NotesFromControl  *string   `json:"notes_from_control"`
	LastUpdated       time.Time `json:"last_updated"`
}

// SingleTestStepStatus tracks one device test step through the
// command/feedback/confirmation triplet.
type SingleTestStepStatus struct {
	StepID                        string          `json:"step_id"`
	CommandFromControl            *string         `json:"command_from_control"`
	ParamsFromControl             json.RawMessage `json:"params_from_control"`
	ExecutionStatusFromSite       *string         `json:"execution_status_from_site"`
	ResultDataFromSite            json.RawMessage `json:"result_data_from_site"`
	FeedbackNotesFromSite         *string         `json:"feedback_notes_from_site"`
	ConfirmationStatusFromControl *string         `json:"confirmation_status_from_control"`
	LastUpdated                   time.Time       `json:"last_updated"`
}

// DebugState is the full shared state of one task, owned by exactly one group
// on the hub. Version advances on every successful mutation and is the
// ordering key clients use to discard stale snapshots.
type DebugState struct {
	TaskID            string                           `json:"task_id"`
	PreCheckItems     map[string]*PreCheckItemStatus   `json:"pre_check_items"`
	SingleTestSteps   map[string]*SingleTestStepStatus `json:"single_test_steps"`
	DebugNote         string                           `json:"debug_note"`
	CustomSharedData  json.RawMessage                  `json:"custom_shared_data,omitempty"`
	LastUpdatedByRole protocol.Role                    `json:"last_updated_by_role,omitempty"`
	LastUpdateTime    time.Time                        `json:"last_update_timestamp"`
	Version           uint64                           `json:"version"`
}

// NewDebugState returns the zero state for a freshly created group. Version
// starts at 0 and only mutations advance it.
func NewDebugState(taskID string) *DebugState {
	return &DebugState{
		TaskID:          taskID,
		PreCheckItems:   make(map[string]*PreCheckItemStatus),
		SingleTestSteps: make(map[string]*SingleTestStepStatus),
		LastUpdateTime:  time.Now().UTC(),
	}
}

// clone returns a deep copy safe to serialise after the authority lock is
// released.
func (s *DebugState) clone() *DebugState {
	cp := *s
	cp.PreCheckItems = make(map[string]*PreCheckItemStatus, len(s.PreCheckItems))
	for id, item := range s.PreCheckItems {
		itemCopy := *item
		cp.PreCheckItems[id] = &itemCopy
	}
	cp.SingleTestSteps = make(map[string]*SingleTestStepStatus, len(s.SingleTestSteps))
	for id, step := range s.SingleTestSteps {
		stepCopy := *step
		cp.SingleTestSteps[id] = &stepCopy
	}
	if s.CustomSharedData != nil {
		cp.CustomSharedData = append(json.RawMessage(nil), s.CustomSharedData...)
	}
	return &cp
}
