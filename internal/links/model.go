package links

// Status is the lifecycle state of a link submission.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// String returns the stored representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// PendingQueueFilter selects the submissions awaiting ingestion. It is kept
// literal so SQLite can match it against the partial pending queue index.
const PendingQueueFilter = "status = 'pending'"

// Submission is one user's request to ingest a URL.
type Submission struct {
	ID               string  `gorm:"column:id;primaryKey;size:36" json:"id"`
	SubmittedBy      *string `gorm:"column:submitted_by;size:190;index" json:"submittedBy,omitempty"`
	URLOriginal      string  `gorm:"column:url_original;type:text;not null" json:"urlOriginal"`
	URLNormalized    string  `gorm:"column:url_normalized;size:2048;not null;index" json:"urlNormalized"`
	SourceType       string  `gorm:"column:source_type;size:32;not null" json:"sourceType"`
	Status           Status  `gorm:"column:status;size:16;not null" json:"status"`
	RejectedReason   *string `gorm:"column:rejected_reason;type:text" json:"rejectedReason,omitempty"`
	Note             *string `gorm:"column:note;type:text" json:"note,omitempty"`
	PostID           *string `gorm:"column:post_id;size:36" json:"postId,omitempty"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "link_submissions"
}

// StatusEvent announces that a submission reached a new status.
type StatusEvent struct {
	SubmissionID string  `json:"submissionId"`
	UserID       string  `json:"userId,omitempty"`
	Status       Status  `json:"status"`
	PostID       *string `json:"postId,omitempty"`
	Reason       *string `json:"reason,omitempty"`
	AtSeconds    int64   `json:"at"`
}

// StatusListener receives submission status events. Implementations must not block.
type StatusListener interface {
	SubmissionStatusChanged(event StatusEvent)
}

// EventFromSubmission builds the status event describing the submission's current state.
func EventFromSubmission(submission Submission) StatusEvent {
	event := StatusEvent{
		SubmissionID: submission.ID,
		Status:       submission.Status,
		PostID:       submission.PostID,
		Reason:       submission.RejectedReason,
		AtSeconds:    submission.UpdatedAtSeconds,
	}
	if submission.SubmittedBy != nil {
		event.UserID = *submission.SubmittedBy
	}
	return event
}
