package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/textube/backend/internal/posts"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase       = errors.New("database handle is required")
	errMissingPosts          = errors.New("post gateway is required")
	errMissingIDProvider     = errors.New("id provider is required")
	errMissingAllowedDomains = errors.New("allowed domains are required")
	noOpLogger               = zap.NewNop()
)

const (
	opServiceNew    = "links.service.new"
	opSubmitLink    = "links.submit_link"
	opGetSubmission = "links.get_submission"
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// PostGateway is the part of the post service the submission flow depends on.
type PostGateway interface {
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (posts.Post, error)
	RecordAttempt(ctx context.Context, postID, userID string, note *string) (bool, error)
	UpdateRankScore(ctx context.Context, postID string) (float64, error)
}

// Enqueuer hands a pending submission to background processing without blocking.
type Enqueuer interface {
	Enqueue(submissionID string) bool
}

type ServiceConfig struct {
	Database       *gorm.DB
	Posts          PostGateway
	Dispatcher     Enqueuer
	Listener       StatusListener
	AllowedDomains []string
	Clock          func() time.Time
	IDProvider     posts.IDProvider
	Logger         *zap.Logger
}

// Service accepts link submissions.
type Service struct {
	store          *Store
	posts          PostGateway
	dispatcher     Enqueuer
	listener       StatusListener
	allowedDomains []string
	idProvider     posts.IDProvider
	logger         *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Posts == nil {
		return nil, newServiceError(opServiceNew, "missing_posts", errMissingPosts)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if len(cfg.AllowedDomains) == 0 {
		return nil, newServiceError(opServiceNew, "missing_allowed_domains", errMissingAllowedDomains)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:          NewStore(cfg.Database, cfg.Clock),
		posts:          cfg.Posts,
		dispatcher:     cfg.Dispatcher,
		listener:       cfg.Listener,
		allowedDomains: append([]string(nil), cfg.AllowedDomains...),
		idProvider:     cfg.IDProvider,
		logger:         logger,
	}, nil
}

// Store exposes the submission store shared with the ingest worker.
func (s *Service) Store() *Store {
	return s.store
}

// SubmitLinkResponse is the outcome of a submission request.
type SubmitLinkResponse struct {
	SubmissionID string  `json:"submissionId"`
	Status       Status  `json:"status"`
	PostID       *string `json:"postId,omitempty"`
	Reason       *string `json:"reason,omitempty"`
}

// SubmitLink normalizes, filters and deduplicates rawURL. Unsafe URLs are recorded
// as rejected, known content is recorded as completed against the existing post,
// and anything else is stored as pending and handed to the dispatcher.
func (s *Service) SubmitLink(ctx context.Context, userID, rawURL string, note *string) (SubmitLinkResponse, error) {
	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return SubmitLinkResponse{}, err
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		return SubmitLinkResponse{}, newServiceError(opSubmitLink, "id_generation_failed", err)
	}

	submission := Submission{
		ID:            submissionID,
		SubmittedBy:   optionalString(userID),
		URLOriginal:   rawURL,
		URLNormalized: normalized.CanonicalURL,
		SourceType:    normalized.SourceType.String(),
		Note:          trimOptional(note),
	}

	verdict := urlnorm.IsSafe(normalized.CanonicalURL, s.allowedDomains)
	if !verdict.Safe {
		reason := verdict.Reason.Message()
		submission.Status = StatusRejected
		submission.RejectedReason = &reason
		if err := s.persist(ctx, &submission); err != nil {
			return SubmitLinkResponse{}, err
		}
		s.loggerOrDefault().Info("submission rejected",
			zap.String("submission_id", submissionID),
			zap.String("reason", string(verdict.Reason)))
		return SubmitLinkResponse{SubmissionID: submissionID, Status: StatusRejected, Reason: &reason}, nil
	}

	existing, err := s.posts.FindByCanonicalURL(ctx, normalized.CanonicalURL)
	switch {
	case err == nil:
		if _, err := s.posts.RecordAttempt(ctx, existing.ID, userID, submission.Note); err != nil {
			s.logError(opSubmitLink, "record_attempt_failed", err, zap.String("post_id", existing.ID))
			return SubmitLinkResponse{}, newServiceError(opSubmitLink, "record_attempt_failed", err)
		}
		if _, err := s.posts.UpdateRankScore(ctx, existing.ID); err != nil {
			s.loggerOrDefault().Warn("rank refresh after duplicate submission failed",
				zap.String("post_id", existing.ID),
				zap.Error(err))
		}
		postID := existing.ID
		submission.Status = StatusCompleted
		submission.PostID = &postID
		if err := s.persist(ctx, &submission); err != nil {
			return SubmitLinkResponse{}, err
		}
		return SubmitLinkResponse{SubmissionID: submissionID, Status: StatusCompleted, PostID: &postID}, nil
	case errors.Is(err, posts.ErrPostNotFound):
	default:
		s.logError(opSubmitLink, "post_lookup_failed", err, zap.String("url", normalized.CanonicalURL))
		return SubmitLinkResponse{}, newServiceError(opSubmitLink, "post_lookup_failed", err)
	}

	submission.Status = StatusPending
	if err := s.persist(ctx, &submission); err != nil {
		return SubmitLinkResponse{}, err
	}
	if s.dispatcher != nil && !s.dispatcher.Enqueue(submissionID) {
		s.loggerOrDefault().Warn("submission handoff skipped; left for sweeper",
			zap.String("submission_id", submissionID))
	}
	return SubmitLinkResponse{SubmissionID: submissionID, Status: StatusPending}, nil
}

// GetSubmission returns the stored submission.
func (s *Service) GetSubmission(ctx context.Context, id string) (Submission, error) {
	submission, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return Submission{}, err
		}
		s.logError(opGetSubmission, "query_failed", err, zap.String("submission_id", id))
		return Submission{}, newServiceError(opGetSubmission, "query_failed", err)
	}
	return submission, nil
}

func (s *Service) persist(ctx context.Context, submission *Submission) error {
	if err := s.store.Create(ctx, submission); err != nil {
		s.logError(opSubmitLink, "submission_insert_failed", err, zap.String("submission_id", submission.ID))
		return newServiceError(opSubmitLink, "submission_insert_failed", err)
	}
	if s.listener != nil {
		s.listener.SubmissionStatusChanged(EventFromSubmission(*submission))
	}
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(*value)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("links service error", attrs...)
}
