// Package conversation runs the operator's multi-step flows (add, edit,
// delete and schedule a template) as per-operator state machines.
//
// The engine is transport-neutral: it consumes Input and produces Reply
// values. Each step is an entry in a transition table keyed by State.
package conversation

import (
	"context"
	"time"

	"templatebot/internal/task/scheduler"
	kit "templatebot/internal/transport"
)

type Flow int

const (
	FlowAdd Flow = iota + 1
	FlowEdit
	FlowDelete
	FlowSchedule
)

func (f Flow) String() string {
	switch f {
	case FlowAdd:
		return "add_template"
	case FlowEdit:
		return "edit_template"
	case FlowDelete:
		return "delete_template"
	case FlowSchedule:
		return "schedule"
	default:
		return "unknown"
	}
}

type State int

const (
	stateDone State = iota

	StateWaitingName
	StateWaitingText
	StateWaitingImage
	StateWaitingButtonText
	StateWaitingButtonURL

	StateEditWaitingTemplate
	StateEditWaitingField
	StateEditWaitingValue
	StateEditWaitingButtonURL

	StateDeleteWaitingTemplate

	StateScheduleWaitingTemplate
	StateScheduleWaitingSelection
)

var stateNames = map[State]string{
	stateDone:                     "done",
	StateWaitingName:              "waiting_name",
	StateWaitingText:              "waiting_text",
	StateWaitingImage:             "waiting_image",
	StateWaitingButtonText:        "waiting_button_text",
	StateWaitingButtonURL:         "waiting_button_url",
	StateEditWaitingTemplate:      "edit_waiting_template",
	StateEditWaitingField:         "edit_waiting_field",
	StateEditWaitingValue:         "edit_waiting_value",
	StateEditWaitingButtonURL:     "edit_waiting_button_url",
	StateDeleteWaitingTemplate:    "delete_waiting_template",
	StateScheduleWaitingTemplate:  "schedule_waiting_template",
	StateScheduleWaitingSelection: "schedule_waiting_selection",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Field is the template field chosen in the edit flow.
type Field int

const (
	FieldText Field = iota + 1
	FieldImage
	FieldButton
)

// Draft accumulates what the operator entered so far.
type Draft struct {
	Name       string
	Text       string
	ImagePath  string
	ButtonText string
	ButtonURL  string
	// Complete is set once every add-flow field is collected; a new name
	// then saves straight away.
	Complete bool

	TemplateID   int64
	TemplateName string
	Field        Field
}

type Session struct {
	Flow      Flow
	State     State
	Draft     Draft
	StartedAt time.Time
	UpdatedAt time.Time
}

// Input is one operator message.
type Input struct {
	OperatorID int64
	Text       string
	Media      *kit.Media
}

// Reply is one outbound message. Menu renders a single-choice keyboard.
type Reply struct {
	Text       string
	Menu       []string
	RemoveMenu bool
}

// Scheduler is the subset of the job scheduler the flows drive.
type Scheduler interface {
	Upsert(id string, t scheduler.Trigger, fn func(ctx context.Context) error) error
	Cancel(id string) scheduler.CancelResult
	List() []scheduler.Job
}

// Media stores and releases uploaded photos.
type Media interface {
	Save(ctx context.Context, m kit.Media) (string, error)
	Release(path string) error
}

// Jobs builds the delivery callback for a template.
type Jobs interface {
	JobFunc(templateID int64) func(ctx context.Context) error
}
