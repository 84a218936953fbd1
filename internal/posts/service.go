package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/textube/backend/internal/sources"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPostNotFound indicates that no post matches the lookup.
	ErrPostNotFound = errors.New("posts: post not found")
	// ErrDuplicatePost indicates that a post with the same canonical URL already exists.
	ErrDuplicatePost = errors.New("posts: duplicate post")
	// ErrUnsupportedSource indicates that no adapter is registered for the source type.
	ErrUnsupportedSource = errors.New("posts: unsupported source")
	// ErrInvalidComment indicates that a comment request is missing required fields.
	ErrInvalidComment = errors.New("posts: invalid comment")
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew          = "posts.service.new"
	opCreatePostFromLink  = "posts.create_from_link"
	opUpdateRankScore     = "posts.update_rank_score"
	opFindByCanonicalURL  = "posts.find_by_canonical_url"
	opGetPost             = "posts.get_post"
	opGetPostDetail       = "posts.get_post_detail"
	opListPosts           = "posts.list_posts"
	opRecordAttempt       = "posts.record_attempt"
	opAddComment          = "posts.add_comment"
	defaultCommentLang    = "ko"
	sqliteUniqueViolation = "UNIQUE constraint failed"
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

// AdapterLookup resolves the adapter for a source type.
type AdapterLookup interface {
	Get(sourceType urlnorm.SourceType) (sources.Adapter, bool)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Adapters   AdapterLookup
	Clock      func() time.Time
	IDProvider IDProvider
	Weights    *Weights
	Logger     *zap.Logger
}

// Service owns posts and everything attached to them.
type Service struct {
	db         *gorm.DB
	queries    *sqlx.DB
	adapters   AdapterLookup
	clock      func() time.Time
	idProvider IDProvider
	weights    Weights
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	sqlDB, err := cfg.Database.DB()
	if err != nil {
		return nil, newServiceError(opServiceNew, "sql_handle_failed", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	weights := DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		queries:    sqlx.NewDb(sqlDB, "sqlite"),
		adapters:   cfg.Adapters,
		clock:      clock,
		idProvider: cfg.IDProvider,
		weights:    weights,
		logger:     logger,
	}, nil
}

// CreatePostFromLink fetches the content behind canonicalURL and materializes the
// post, its primary link and its source metadata in a single transaction.
func (s *Service) CreatePostFromLink(ctx context.Context, canonicalURL string, sourceType urlnorm.SourceType, authorUserID *string) (Post, error) {
	var adapter sources.Adapter
	var ok bool
	if s.adapters != nil {
		adapter, ok = s.adapters.Get(sourceType)
	}
	if !ok {
		return Post{}, newServiceError(opCreatePostFromLink, "unsupported_source",
			fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType))
	}

	content, err := adapter.FetchContent(ctx, canonicalURL)
	if err != nil {
		s.logError(opCreatePostFromLink, "fetch_failed", err,
			zap.String("url", canonicalURL),
			zap.String("source_type", sourceType.String()))
		return Post{}, newServiceError(opCreatePostFromLink, "fetch_failed", err)
	}
	externalID, hasExternalID := adapter.ExtractExternalID(canonicalURL)

	payload, err := json.Marshal(content.Metadata)
	if err != nil {
		return Post{}, newServiceError(opCreatePostFromLink, "encode_payload_failed", err)
	}
	engagement, err := json.Marshal(content.Engagement)
	if err != nil {
		return Post{}, newServiceError(opCreatePostFromLink, "encode_engagement_failed", err)
	}
	bodyRef, err := json.Marshal(map[string]string{"body": content.Body})
	if err != nil {
		return Post{}, newServiceError(opCreatePostFromLink, "encode_body_failed", err)
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		return Post{}, newServiceError(opCreatePostFromLink, "id_generation_failed", err)
	}
	linkID, err := s.idProvider.NewID()
	if err != nil {
		return Post{}, newServiceError(opCreatePostFromLink, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	post := Post{
		ID:               postID,
		URLCanonical:     canonicalURL,
		Title:            content.Title,
		AuthorUserID:     normalizeOptional(authorUserID),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opCreatePostFromLink, "duplicate_post",
					fmt.Errorf("%w: %s", ErrDuplicatePost, canonicalURL))
			}
			s.logError(opCreatePostFromLink, "post_insert_failed", err, zap.String("url", canonicalURL))
			return newServiceError(opCreatePostFromLink, "post_insert_failed", err)
		}

		link := PostLink{
			ID:               linkID,
			PostID:           postID,
			URLVariant:       canonicalURL,
			SourceType:       sourceType.String(),
			IsPrimary:        true,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&link).Error; err != nil {
			s.logError(opCreatePostFromLink, "link_insert_failed", err, zap.String("post_id", postID))
			return newServiceError(opCreatePostFromLink, "link_insert_failed", err)
		}

		if hasExternalID {
			metadataID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opCreatePostFromLink, "id_generation_failed", err)
			}
			metadata := SourceMetadata{
				ID:                metadataID,
				PostID:            postID,
				SourceType:        sourceType.String(),
				ExternalID:        externalID,
				FetchedPayload:    string(payload),
				EngagementSignals: string(engagement),
				CreatedAtSeconds:  now,
				UpdatedAtSeconds:  now,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "post_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"source_type", "external_id", "fetched_payload", "engagement_signals", "updated_at_s"}),
			}).Create(&metadata).Error
			if err != nil {
				s.logError(opCreatePostFromLink, "metadata_upsert_failed", err, zap.String("post_id", postID))
				return newServiceError(opCreatePostFromLink, "metadata_upsert_failed", err)
			}
		}

		if err := tx.Model(&Post{}).Where("id = ?", postID).Update("body_original_ref", string(bodyRef)).Error; err != nil {
			s.logError(opCreatePostFromLink, "body_ref_update_failed", err, zap.String("post_id", postID))
			return newServiceError(opCreatePostFromLink, "body_ref_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Post{}, txErr
	}

	return s.GetPost(ctx, postID)
}

type rankSignalsRow struct {
	ViewCount        int64 `db:"view_count"`
	CreatedAtSeconds int64 `db:"created_at_s"`
	AttemptCount     int64 `db:"attempt_count"`
	CommentCount     int64 `db:"comment_count"`
	ExternalUpvotes  int64 `db:"external_upvotes"`
	ExternalViews    int64 `db:"external_views"`
}

const rankSignalsQuery = `
SELECT
	p.view_count AS view_count,
	p.created_at_s AS created_at_s,
	(SELECT COUNT(DISTINCT a.user_id) FROM post_attempts a WHERE a.post_id = p.id) AS attempt_count,
	(SELECT COUNT(DISTINCT c.id) FROM comments c WHERE c.post_id = p.id) AS comment_count,
	COALESCE((SELECT CAST(json_extract(m.engagement_signals, '$.upvotes') AS INTEGER)
		FROM source_metadata m WHERE m.post_id = p.id), 0) AS external_upvotes,
	COALESCE((SELECT CAST(json_extract(m.engagement_signals, '$.views') AS INTEGER)
		FROM source_metadata m WHERE m.post_id = p.id), 0) AS external_views
FROM posts p
WHERE p.id = ?`

// UpdateRankScore recomputes and stores the rank score of a post.
func (s *Service) UpdateRankScore(ctx context.Context, postID string) (float64, error) {
	signals, err := s.loadSignals(ctx, postID)
	if err != nil {
		return 0, err
	}

	score := ComputeRankScore(signals, s.weights)
	result := s.db.WithContext(ctx).Model(&Post{}).
		Where("id = ?", postID).
		UpdateColumns(map[string]any{
			"rank_score":   score,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opUpdateRankScore, "update_failed", result.Error, zap.String("post_id", postID))
		return 0, newServiceError(opUpdateRankScore, "update_failed", result.Error)
	}
	return score, nil
}

func (s *Service) loadSignals(ctx context.Context, postID string) (Signals, error) {
	var row rankSignalsRow
	if err := s.queries.GetContext(ctx, &row, rankSignalsQuery, postID); err != nil {
		if errors.Is(err, errNoRows) {
			return Signals{}, newServiceError(opUpdateRankScore, "post_not_found",
				fmt.Errorf("%w: %s", ErrPostNotFound, postID))
		}
		s.logError(opUpdateRankScore, "signals_query_failed", err, zap.String("post_id", postID))
		return Signals{}, newServiceError(opUpdateRankScore, "signals_query_failed", err)
	}

	ageSeconds := s.clock().UTC().Unix() - row.CreatedAtSeconds
	return Signals{
		ViewCount:       row.ViewCount,
		AttemptCount:    row.AttemptCount,
		CommentCount:    row.CommentCount,
		ExternalUpvotes: row.ExternalUpvotes,
		ExternalViews:   row.ExternalViews,
		HoursOld:        float64(ageSeconds) / 3600,
	}, nil
}

// FindByCanonicalURL returns the post stored under canonicalURL.
func (s *Service) FindByCanonicalURL(ctx context.Context, canonicalURL string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("url_canonical = ?", canonicalURL).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, canonicalURL)
	}
	if err != nil {
		s.logError(opFindByCanonicalURL, "query_failed", err, zap.String("url", canonicalURL))
		return Post{}, newServiceError(opFindByCanonicalURL, "query_failed", err)
	}
	return post, nil
}

// GetPost loads a post by id.
func (s *Service) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
	}
	if err != nil {
		s.logError(opGetPost, "query_failed", err, zap.String("post_id", postID))
		return Post{}, newServiceError(opGetPost, "query_failed", err)
	}
	return post, nil
}

// RecordAttempt notes that userID also submitted the post. Duplicate attempts and
// attempts by the author are ignored; the result reports whether a row was added.
func (s *Service) RecordAttempt(ctx context.Context, postID, userID string, note *string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}

	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return false, err
	}
	if post.AuthorUserID != nil && *post.AuthorUserID == userID {
		return false, nil
	}

	attemptID, err := s.idProvider.NewID()
	if err != nil {
		return false, newServiceError(opRecordAttempt, "id_generation_failed", err)
	}
	attempt := PostAttempt{
		ID:               attemptID,
		PostID:           postID,
		UserID:           userID,
		Note:             normalizeOptional(note),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&attempt)
	if result.Error != nil {
		s.logError(opRecordAttempt, "insert_failed", result.Error,
			zap.String("post_id", postID),
			zap.String("user_id", userID))
		return false, newServiceError(opRecordAttempt, "insert_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CommentInput describes a new comment.
type CommentInput struct {
	PostID          string
	UserID          string
	ParentCommentID *string
	Body            string
	Lang            string
}

// AddComment stores a comment and refreshes the post's rank score.
func (s *Service) AddComment(ctx context.Context, input CommentInput) (Comment, error) {
	body := strings.TrimSpace(input.Body)
	userID := strings.TrimSpace(input.UserID)
	if body == "" {
		return Comment{}, fmt.Errorf("%w: empty body", ErrInvalidComment)
	}
	if userID == "" {
		return Comment{}, fmt.Errorf("%w: user is required", ErrInvalidComment)
	}
	lang := strings.TrimSpace(input.Lang)
	if lang == "" {
		lang = defaultCommentLang
	}

	if _, err := s.GetPost(ctx, input.PostID); err != nil {
		return Comment{}, err
	}

	parentID := normalizeOptional(input.ParentCommentID)
	if parentID != nil {
		var count int64
		err := s.db.WithContext(ctx).Model(&Comment{}).
			Where("id = ? AND post_id = ?", *parentID, input.PostID).
			Count(&count).Error
		if err != nil {
			s.logError(opAddComment, "parent_lookup_failed", err, zap.String("post_id", input.PostID))
			return Comment{}, newServiceError(opAddComment, "parent_lookup_failed", err)
		}
		if count == 0 {
			return Comment{}, fmt.Errorf("%w: parent comment %s not on post", ErrInvalidComment, *parentID)
		}
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	comment := Comment{
		ID:               commentID,
		PostID:           input.PostID,
		UserID:           userID,
		ParentCommentID:  parentID,
		Body:             body,
		Lang:             lang,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err, zap.String("post_id", input.PostID))
		return Comment{}, newServiceError(opAddComment, "insert_failed", err)
	}

	if _, err := s.UpdateRankScore(ctx, input.PostID); err != nil {
		s.loggerOrDefault().Warn("rank refresh after comment failed",
			zap.String("post_id", input.PostID),
			zap.Error(err))
	}
	return comment, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), sqliteUniqueViolation)
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
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
	s.loggerOrDefault().Error("posts service error", attrs...)
}
