package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errNoRows = sql.ErrNoRows

// SortOrder selects the ordering of ListPosts.
type SortOrder string

const (
	SortRank   SortOrder = "rank"
	SortRecent SortOrder = "recent"
	SortViews  SortOrder = "views"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var postColumns = []string{
	"id",
	"url_canonical",
	"title",
	"body_original_ref",
	"body_ko_summary",
	"body_en_summary",
	"body_ko_translation",
	"body_en_translation",
	"author_user_id",
	"view_count",
	"rank_score",
	"created_at_s",
	"updated_at_s",
}

// ParseSortOrder maps a query parameter to a SortOrder. Unknown values fall back to rank.
func ParseSortOrder(value string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(value))) {
	case SortRecent:
		return SortRecent
	case SortViews:
		return SortViews
	default:
		return SortRank
	}
}

// ListQuery pages through posts.
type ListQuery struct {
	Sort   SortOrder
	Limit  int
	Offset int
}

func (q ListQuery) orderBy() []string {
	switch q.Sort {
	case SortRecent:
		return []string{"created_at_s DESC", "id DESC"}
	case SortViews:
		return []string{"view_count DESC", "rank_score DESC", "id DESC"}
	default:
		return []string{"rank_score DESC", "created_at_s DESC", "id DESC"}
	}
}

func (q ListQuery) bounds() (uint64, uint64) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	return uint64(limit), uint64(offset)
}

// ListPosts returns one page of posts in the requested order.
func (s *Service) ListPosts(ctx context.Context, query ListQuery) ([]Post, error) {
	limit, offset := query.bounds()
	statement, args, err := sq.Select(postColumns...).
		From("posts").
		OrderBy(query.orderBy()...).
		Limit(limit).
		Offset(offset).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, newServiceError(opListPosts, "build_query_failed", err)
	}

	posts := make([]Post, 0, limit)
	if err := s.queries.SelectContext(ctx, &posts, statement, args...); err != nil {
		s.logError(opListPosts, "query_failed", err, zap.String("sort", string(query.Sort)))
		return nil, newServiceError(opListPosts, "query_failed", err)
	}
	return posts, nil
}

// GetPostDetail counts a view and returns the post with its links, attempts,
// comments and source metadata.
func (s *Service) GetPostDetail(ctx context.Context, postID string) (PostDetail, error) {
	var detail PostDetail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Post{}).
			Where("id = ?", postID).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if result.Error != nil {
			s.logError(opGetPostDetail, "view_increment_failed", result.Error, zap.String("post_id", postID))
			return newServiceError(opGetPostDetail, "view_increment_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}

		if err := tx.Where("id = ?", postID).Take(&detail.Post).Error; err != nil {
			return newServiceError(opGetPostDetail, "post_query_failed", err)
		}
		if err := tx.Where("post_id = ?", postID).Order("is_primary DESC, created_at_s ASC, id ASC").Find(&detail.Links).Error; err != nil {
			return newServiceError(opGetPostDetail, "links_query_failed", err)
		}
		if err := tx.Where("post_id = ?", postID).Order("created_at_s ASC, id ASC").Find(&detail.Attempts).Error; err != nil {
			return newServiceError(opGetPostDetail, "attempts_query_failed", err)
		}
		if err := tx.Where("post_id = ?", postID).Order("created_at_s ASC, id ASC").Find(&detail.Comments).Error; err != nil {
			return newServiceError(opGetPostDetail, "comments_query_failed", err)
		}

		var metadata SourceMetadata
		err := tx.Where("post_id = ?", postID).Take(&metadata).Error
		switch {
		case err == nil:
			detail.SourceMetadata = &metadata
		case errors.Is(err, gorm.ErrRecordNotFound):
			detail.SourceMetadata = nil
		default:
			return newServiceError(opGetPostDetail, "metadata_query_failed", err)
		}
		return nil
	})
	if err != nil {
		return PostDetail{}, err
	}
	return detail, nil
}
