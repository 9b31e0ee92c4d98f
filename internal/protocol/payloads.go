package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Canonical message_type values. Client-to-server unless noted.
const (
	TypePing     = "Ping"
	TypePong     = "Pong" // server to client
	TypeEcho     = "Echo" // both directions, diagnostic
	TypeRegister = "Register"

	// Server to client.
	TypeRegisterResponse    = "RegisterResponse"
	TypePartnerStatusUpdate = "PartnerStatusUpdate"
	TypeTaskStateUpdate     = "TaskStateUpdate"
	TypeErrorResponse       = "ErrorResponse"

	// Business mutations, routed to the task-state authority.
	TypeUpdatePreCheckItem     = "UpdatePreCheckItem"
	TypeStartSingleTestStep    = "StartSingleTestStep"
	TypeFeedbackSingleTestStep = "FeedbackSingleTestStep"
	TypeConfirmSingleTestStep  = "ConfirmSingleTestStep"
	TypeUpdateTaskDebugNote    = "UpdateTaskDebugNoteCommand"
)

// Role identifies which side of the debugging workflow a client plays. A
// session is RoleUnknown until its Register succeeds.
type Role string

const (
	RoleControlCenter Role = "ControlCenter"
	RoleOnSiteMobile  Role = "OnSiteMobile"
	RoleUnknown       Role = "Unknown"
)

// ValidRole returns true for roles a client may declare in a Register.
// RoleUnknown is the pre-registration placeholder and cannot be requested.
func ValidRole(r Role) bool {
	return r == RoleControlCenter || r == RoleOnSiteMobile
}

// PingPayload is the application-level heartbeat. Empty today; declared so the
// type is stable if it ever grows.
type PingPayload struct{}

// PongPayload answers a Ping.
type PongPayload struct{}

// EchoPayload is bounced back verbatim by the server.
type EchoPayload struct {
	Content string `json:"content"`
}

// RegisterPayload joins (or creates) a debug group bound to a task. The two
// client fields are advisory: some client builds send them, the hub accepts
// them and uses them only in its registration log line.
type RegisterPayload struct {
	GroupID string `json:"group_id"`
	Role    Role   `json:"role"`
	TaskID  string `json:"task_id"`

	ClientSoftwareVersion string `json:"client_software_version,omitempty"`
	ClientDisplayName     string `json:"client_display_name,omitempty"`
}

// RegisterResponsePayload reports the outcome of a Register. On success the
// effective fields confirm the group and role the server settled on.
type RegisterResponsePayload struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message,omitempty"`
	AssignedClientID uuid.UUID `json:"assigned_client_id"`
	EffectiveGroupID string    `json:"effective_group_id,omitempty"`
	EffectiveRole    Role      `json:"effective_role,omitempty"`
}

// PartnerStatusPayload notifies a group member that its partner joined or
// left.
type PartnerStatusPayload struct {
	PartnerRole     Role      `json:"partner_role"`
	PartnerClientID uuid.UUID `json:"partner_client_id"`
	IsOnline        bool      `json:"is_online"`
	GroupID         string    `json:"group_id"`
}

// UpdatePreCheckItemPayload records one side's verdict on a pre-check item.
// Which state fields it lands in depends on the sender's role, never on the
// payload itself.
type UpdatePreCheckItemPayload struct {
	TaskID string  `json:"task_id"`
	ItemID string  `json:"item_id"`
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

// StartSingleTestStepPayload commands the site to execute a device test step.
// ControlCenter only.
type StartSingleTestStepPayload struct {
	TaskID   string          `json:"task_id"`
	DeviceID string          `json:"device_id"`
	StepID   string          `json:"step_id"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// FeedbackSingleTestStepPayload reports the site-side outcome of a test step.
// OnSiteMobile only.
type FeedbackSingleTestStepPayload struct {
	TaskID          string          `json:"task_id"`
	DeviceID        string          `json:"device_id"`
	StepID          string          `json:"step_id"`
	ExecutionStatus string          `json:"execution_status"`
	ResultData      json.RawMessage `json:"result_data,omitempty"`
	FeedbackNotes   *string         `json:"feedback_notes,omitempty"`
}

// ConfirmSingleTestStepPayload is the control-side sign-off on reported
// feedback. ControlCenter only.
type ConfirmSingleTestStepPayload struct {
	TaskID             string `json:"task_id"`
	DeviceID           string `json:"device_id"`
	StepID             string `json:"step_id"`
	ConfirmationStatus string `json:"confirmation_status"`
}

// UpdateTaskDebugNotePayload replaces the group's shared free-form note and,
// optionally, the structured custom blob attached to it. A present-but-null
// custom_shared_data clears the blob.
type UpdateTaskDebugNotePayload struct {
	GroupID          string          `json:"group_id"`
	NewNote          string          `json:"new_note"`
	CustomSharedData json.RawMessage `json:"custom_shared_data,omitempty"`
}

// ErrorResponsePayload is the sender-visible shape of every recoverable
// failure. The error string starts with the taxonomy kind (NotRegistered,
// BadPayload, RoleMismatch, PayloadTooLarge, UnknownType), except for the
// plain "internal error" sent after a recovered panic. Register rejections
// (role conflict, task mismatch, invalid role) are reported in
// RegisterResponse.message instead.
type ErrorResponsePayload struct {
	OriginalMessageType string `json:"original_message_type,omitempty"`
	Error               string `json:"error"`
}
