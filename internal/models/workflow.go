package models

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// WorkflowStatus is the activation state of a workflow.
type WorkflowStatus string

const (
	WorkflowPreRegistered WorkflowStatus = "PRE_REGISTERED"
	WorkflowActive        WorkflowStatus = "ACTIVE"
	WorkflowInactive      WorkflowStatus = "INACTIVE"
)

var scheduledStatuses = map[WorkflowStatus]bool{
	WorkflowPreRegistered: true,
	WorkflowActive:        true,
}

// IsScheduled reports whether workflows in this status get trigger registrations.
func IsScheduled(s WorkflowStatus) bool {
	return scheduledStatuses[s]
}

// TestStatus records the outcome of validation runs for a workflow.
type TestStatus string

const (
	TestNotTested TestStatus = "NOT_TESTED"
	TestPassed    TestStatus = "TEST_PASSED"
	TestFailed    TestStatus = "TEST_FAILED"
)

// RepeatType selects how a recurrence rule is expanded into triggers.
type RepeatType string

const (
	RepeatOnce    RepeatType = "ONCE"
	RepeatDaily   RepeatType = "DAILY"
	RepeatWeekly  RepeatType = "WEEKLY"
	RepeatMonthly RepeatType = "MONTHLY"
	RepeatCustom  RepeatType = "CUSTOM"
)

// RecurrenceRule is the user-declared repetition pattern of a workflow.
type RecurrenceRule struct {
	RepeatType     RepeatType `json:"repeat_type" yaml:"repeat_type"`
	RepeatInterval int        `json:"repeat_interval,omitempty" yaml:"repeat_interval"`
	DaysOfWeek     []int      `json:"days_of_week,omitempty" yaml:"days_of_week"`
	DaysOfMonth    []int      `json:"days_of_month,omitempty" yaml:"days_of_month"`
	TimesOfDay     []string   `json:"times_of_day,omitempty" yaml:"times_of_day"`
	StartAt        *time.Time `json:"start_at,omitempty" yaml:"start_at"`
}

// Workflow is a configured content pipeline.
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        WorkflowStatus `json:"status"`
	TestStatus    TestStatus     `json:"test_status"`
	SiteURL       string         `json:"site_url"`
	TrendCategory string         `json:"trend_category"`
	BlogType      string         `json:"blog_type"`
	BlogURL       string         `json:"blog_url"`
	Recurrence    RecurrenceRule `json:"recurrence"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TriggerRow is a compiled trigger expression persisted for a workflow job.
type TriggerRow struct {
	WorkflowID string `json:"workflow_id"`
	Job        Job    `json:"job"`
	Position   int    `json:"position"`
	Expression string `json:"expression"`
}

// EncodeIntList renders a day list as a JSON array column value. Nil stays NULL.
func EncodeIntList(values []int) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, "encode int list")
	}
	return raw, nil
}

// DecodeIntList parses a JSON array column value. NULL and empty input decode to nil.
func DecodeIntList(raw []byte) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode int list")
	}
	return out, nil
}
