package models

import (
	"time"
)

// Stage enumerates the pipeline position of a work item as persisted in Postgres.
type Stage string

const (
	StagePending          Stage = "PENDING"
	StageKeywordSelected  Stage = "KEYWORD_SELECTED"
	StageProductSelected  Stage = "PRODUCT_SELECTED"
	StageContentGenerated Stage = "CONTENT_GENERATED"
	StagePublished        Stage = "PUBLISHED"
	StageFailed           Stage = "FAILED"
)

var terminalStages = map[Stage]bool{
	StagePublished: true,
	StageFailed:    true,
}

// IsTerminalStage reports whether no further callback should move the item.
func IsTerminalStage(s Stage) bool {
	return terminalStages[s]
}

// Job names a dispatchable unit of pipeline work. Each job has its own
// trigger registrations and its own queue.
type Job string

const (
	JobContentGenerate Job = "content_generate"
	JobBlogUpload      Job = "blog_upload"
)

// Jobs lists every job in dispatch order.
var Jobs = []Job{JobContentGenerate, JobBlogUpload}

// Product is the item picked by the product selection stage.
type Product struct {
	Code     string `json:"productCode"`
	Name     string `json:"productName"`
	Price    *int64 `json:"productPrice,omitempty"`
	URL      string `json:"productUrl"`
	ImageURL string `json:"imageUrl,omitempty"`
	Mall     string `json:"mall,omitempty"`
}

// Work is one execution of a workflow through the stage sequence.
type Work struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	RunKey     string `json:"run_key"`
	Stage      Stage  `json:"stage"`
	IsTest     bool   `json:"is_test"`

	Keyword    string   `json:"keyword,omitempty"`
	Product    *Product `json:"product,omitempty"`
	Title      string   `json:"title,omitempty"`
	Content    string   `json:"content,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	PostingURL string   `json:"posting_url,omitempty"`
	Message    *string  `json:"message,omitempty"`

	KeywordSelectedAt  *time.Time `json:"keyword_selected_at,omitempty"`
	ProductSelectedAt  *time.Time `json:"product_selected_at,omitempty"`
	ContentGeneratedAt *time.Time `json:"content_generated_at,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepStatus is the outcome recorded on an execution log row.
type StepStatus string

const (
	StepSuccess StepStatus = "SUCCESS"
	StepFailed  StepStatus = "FAILED"
)

// LogLevel is the severity recorded on an execution log row.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ExecutionLog is an append-only record of worker output for one stage.
type ExecutionLog struct {
	ID         int64      `json:"id"`
	WorkID     string     `json:"work_id"`
	StepNumber int        `json:"step_number"`
	StepName   string     `json:"step_name"`
	Body       string     `json:"body"`
	Status     StepStatus `json:"status"`
	Level      LogLevel   `json:"level"`
	ArchiveURI *string    `json:"archive_uri,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
