package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/textube/backend/internal/links"
	"github.com/textube/backend/internal/posts"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
)

// ErrSubmissionNotFound indicates that the submission to process does not exist.
var ErrSubmissionNotFound = links.ErrSubmissionNotFound

var (
	errMissingSubmissions = errors.New("submission store is required")
	errMissingPosts       = errors.New("post pipeline is required")
	noOpLogger            = zap.NewNop()
)

const (
	opWorkerNew          = "ingest.worker.new"
	opProcessSubmission  = "ingest.process_submission"
	opProcessPending     = "ingest.process_pending"
	DefaultBatchLimit    = 10
	maxFailureReasonSize = 1024
)

// PostPipeline is the part of the post service the worker drives.
type PostPipeline interface {
	CreatePostFromLink(ctx context.Context, canonicalURL string, sourceType urlnorm.SourceType, authorUserID *string) (posts.Post, error)
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (posts.Post, error)
	RecordAttempt(ctx context.Context, postID, userID string, note *string) (bool, error)
	UpdateRankScore(ctx context.Context, postID string) (float64, error)
}

type WorkerConfig struct {
	Submissions *links.Store
	Posts       PostPipeline
	Listener    links.StatusListener
	BatchLimit  int
	JobTimeout  time.Duration
	Logger      *zap.Logger
}

// Worker advances pending submissions to posts.
type Worker struct {
	submissions *links.Store
	posts       PostPipeline
	listener    links.StatusListener
	batchLimit  int
	jobTimeout  time.Duration
	logger      *zap.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("%s.missing_submissions: %w", opWorkerNew, errMissingSubmissions)
	}
	if cfg.Posts == nil {
		return nil, fmt.Errorf("%s.missing_posts: %w", opWorkerNew, errMissingPosts)
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Worker{
		submissions: cfg.Submissions,
		posts:       cfg.Posts,
		listener:    cfg.Listener,
		batchLimit:  batchLimit,
		jobTimeout:  jobTimeout,
		logger:      logger,
	}, nil
}

// ProcessSubmission ingests one pending submission. Submissions that are no longer
// pending, or that another worker claims first, are left untouched.
func (w *Worker) ProcessSubmission(ctx context.Context, submissionID string) error {
	submission, err := w.submissions.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, links.ErrSubmissionNotFound) {
			return err
		}
		w.logError(opProcessSubmission, "load_failed", err, zap.String("submission_id", submissionID))
		return fmt.Errorf("%s.load_failed: %w", opProcessSubmission, err)
	}
	if submission.Status != links.StatusPending {
		w.logger.Debug("submission not pending; skipping",
			zap.String("submission_id", submissionID),
			zap.String("status", submission.Status.String()))
		return nil
	}

	claimed, err := w.submissions.Advance(ctx, submissionID, links.StatusPending, links.StatusProcessing, links.Transition{})
	if err != nil {
		w.logError(opProcessSubmission, "claim_failed", err, zap.String("submission_id", submissionID))
		return fmt.Errorf("%s.claim_failed: %w", opProcessSubmission, err)
	}
	if !claimed {
		w.logger.Debug("submission claimed elsewhere", zap.String("submission_id", submissionID))
		return nil
	}
	submission.Status = links.StatusProcessing
	submission.UpdatedAtSeconds = w.submissions.Now()
	w.publish(submission)

	postID, ingestErr := w.materialize(ctx, submission)
	if ingestErr != nil {
		return w.fail(ctx, submission, ingestErr)
	}

	completed, err := w.submissions.Advance(context.WithoutCancel(ctx), submissionID, links.StatusProcessing, links.StatusCompleted, links.Transition{PostID: &postID})
	if err != nil {
		w.logError(opProcessSubmission, "complete_failed", err,
			zap.String("submission_id", submissionID),
			zap.String("post_id", postID))
		// The post exists, so a rerun takes the found path and completes.
		w.release(ctx, submission)
		return fmt.Errorf("%s.complete_failed: %w", opProcessSubmission, err)
	}
	if completed {
		submission.Status = links.StatusCompleted
		submission.PostID = &postID
		submission.UpdatedAtSeconds = w.submissions.Now()
		w.publish(submission)
		w.logger.Info("submission completed",
			zap.String("submission_id", submissionID),
			zap.String("post_id", postID))
	}
	return nil
}

func (w *Worker) materialize(ctx context.Context, submission links.Submission) (string, error) {
	sourceType, ok := urlnorm.ParseSourceType(submission.SourceType)
	if !ok {
		return "", fmt.Errorf("%w: %q", posts.ErrUnsupportedSource, submission.SourceType)
	}

	post, err := w.posts.CreatePostFromLink(ctx, submission.URLNormalized, sourceType, submission.SubmittedBy)
	if errors.Is(err, posts.ErrDuplicatePost) {
		w.logger.Info("post created concurrently; attaching submission",
			zap.String("submission_id", submission.ID),
			zap.String("url", submission.URLNormalized))
		post, err = w.posts.FindByCanonicalURL(ctx, submission.URLNormalized)
	}
	if err != nil {
		return "", err
	}

	if submission.SubmittedBy != nil && (post.AuthorUserID == nil || *post.AuthorUserID != *submission.SubmittedBy) {
		if _, err := w.posts.RecordAttempt(ctx, post.ID, *submission.SubmittedBy, submission.Note); err != nil {
			return "", err
		}
	}

	if _, err := w.posts.UpdateRankScore(ctx, post.ID); err != nil {
		return "", err
	}
	return post.ID, nil
}

func (w *Worker) fail(ctx context.Context, submission links.Submission, cause error) error {
	if errors.Is(cause, context.Canceled) {
		w.logger.Info("submission interrupted; returning to pending",
			zap.String("submission_id", submission.ID),
			zap.Error(cause))
		w.release(ctx, submission)
		return fmt.Errorf("%s.interrupted: %w", opProcessSubmission, cause)
	}

	reason := truncateReason(cause.Error(), maxFailureReasonSize)
	w.logError(opProcessSubmission, "ingest_failed", cause,
		zap.String("submission_id", submission.ID),
		zap.String("url", submission.URLNormalized))

	// The job context may already be expired; the failure still has to be recorded.
	failed, err := w.submissions.Advance(context.WithoutCancel(ctx), submission.ID, links.StatusProcessing, links.StatusFailed, links.Transition{Reason: &reason})
	if err != nil {
		w.logError(opProcessSubmission, "mark_failed_failed", err, zap.String("submission_id", submission.ID))
	} else if failed {
		submission.Status = links.StatusFailed
		submission.RejectedReason = &reason
		submission.UpdatedAtSeconds = w.submissions.Now()
		w.publish(submission)
	}
	return fmt.Errorf("%s.ingest_failed: %w", opProcessSubmission, cause)
}

// release hands a claimed submission back to the sweeper.
func (w *Worker) release(ctx context.Context, submission links.Submission) {
	released, err := w.submissions.Advance(context.WithoutCancel(ctx), submission.ID, links.StatusProcessing, links.StatusPending, links.Transition{})
	if err != nil {
		w.logError(opProcessSubmission, "release_failed", err, zap.String("submission_id", submission.ID))
		w.logger.Error("submission stuck in processing", zap.String("submission_id", submission.ID))
		return
	}
	if released {
		submission.Status = links.StatusPending
		submission.UpdatedAtSeconds = w.submissions.Now()
		w.publish(submission)
	}
}

func truncateReason(reason string, limit int) string {
	if len(reason) <= limit {
		return reason
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// BatchFailure records one submission that failed during a sweep.
type BatchFailure struct {
	SubmissionID string
	Err          error
}

// BatchResult summarizes one ProcessPendingSubmissions call.
type BatchResult struct {
	Attempted int
	Failures  []BatchFailure
}

// Succeeded returns the number of attempted submissions that did not fail.
func (r BatchResult) Succeeded() int {
	return r.Attempted - len(r.Failures)
}

// ProcessPendingSubmissions processes up to limit of the oldest pending submissions
// in order. A failing submission is recorded in the result and does not stop the batch.
// Cancelling ctx stops the batch before the next item; the item in flight runs to
// completion under its own timeout.
func (w *Worker) ProcessPendingSubmissions(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = w.batchLimit
	}
	pending, err := w.submissions.ListPending(ctx, limit)
	if err != nil {
		w.logError(opProcessPending, "list_failed", err)
		return BatchResult{}, fmt.Errorf("%s.list_failed: %w", opProcessPending, err)
	}

	var result BatchResult
	for _, submission := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Attempted++
		if err := w.processDetached(ctx, submission.ID); err != nil {
			result.Failures = append(result.Failures, BatchFailure{SubmissionID: submission.ID, Err: err})
		}
	}

	if result.Attempted > 0 {
		w.logger.Info("pending submissions processed",
			zap.Int("attempted", result.Attempted),
			zap.Int("failed", len(result.Failures)))
	}
	return result, nil
}

func (w *Worker) processDetached(ctx context.Context, submissionID string) error {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()
	return w.ProcessSubmission(jobCtx, submissionID)
}

func (w *Worker) publish(submission links.Submission) {
	if w.listener == nil {
		return
	}
	w.listener.SubmissionStatusChanged(links.EventFromSubmission(submission))
}

func (w *Worker) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	w.logger.Error("ingest worker error", attrs...)
}
