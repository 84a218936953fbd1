package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrSubmissionNotFound indicates that no submission matches the identifier.
var ErrSubmissionNotFound = errors.New("links: submission not found")

// Store persists submissions and applies compare-and-swap status transitions.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore wraps db; a nil clock defaults to time.Now.
func NewStore(db *gorm.DB, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}
}

// Now returns the store clock reading in UTC seconds.
func (s *Store) Now() int64 {
	return s.clock().UTC().Unix()
}

// Create inserts a new submission row.
func (s *Store) Create(ctx context.Context, submission *Submission) error {
	now := s.Now()
	if submission.CreatedAtSeconds == 0 {
		submission.CreatedAtSeconds = now
	}
	submission.UpdatedAtSeconds = now
	return s.db.WithContext(ctx).Create(submission).Error
}

// Get loads a submission by id.
func (s *Store) Get(ctx context.Context, id string) (Submission, error) {
	var submission Submission
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
	}
	if err != nil {
		return Submission{}, err
	}
	return submission, nil
}

// Transition describes the columns written alongside a status change.
type Transition struct {
	PostID *string
	Reason *string
}

// Advance moves the submission from one status to another only when it is still
// in the expected status. It reports whether this call performed the change.
func (s *Store) Advance(ctx context.Context, id string, from, to Status, transition Transition) (bool, error) {
	updates := map[string]any{
		"status":       to,
		"updated_at_s": s.Now(),
	}
	if transition.PostID != nil {
		updates["post_id"] = *transition.PostID
	}
	if transition.Reason != nil {
		updates["rejected_reason"] = *transition.Reason
	}

	result := s.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListPending returns up to limit pending submissions, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Submission, error) {
	var submissions []Submission
	err := s.db.WithContext(ctx).
		Where(PendingQueueFilter).
		Order("created_at_s ASC, id ASC").
		Limit(limit).
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}
