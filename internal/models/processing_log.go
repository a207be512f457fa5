package models

// ProcessingLog is an append-only audit row recording one progress event.
// It is written by the progress bus and never read to render status; the
// Task row is authoritative.
type ProcessingLog struct {
	BaseModel

	// TaskID is the task the event belongs to.
	TaskID ULID `gorm:"not null;type:varchar(26);index" json:"task_id"`

	// Language is the target language tag, or DefaultLanguage for
	// task-global stages.
	Language string `gorm:"not null;size:16" json:"language"`

	// Stage is the pipeline stage the event belongs to.
	Stage Stage `gorm:"not null;size:32" json:"stage"`

	// Status is the stage state at the time of the event.
	Status StageState `gorm:"not null;size:20" json:"status"`

	// Progress is the stage progress at the time of the event (0-100).
	Progress int `json:"progress"`

	// Message is the human-readable event description.
	Message string `gorm:"size:2048" json:"message,omitempty"`
}

// TableName returns the table name for ProcessingLog.
func (ProcessingLog) TableName() string {
	return "processing_logs"
}
