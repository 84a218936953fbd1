package posts

// Post is the canonical record for one piece of external content.
type Post struct {
	ID                string  `gorm:"column:id;primaryKey;size:36" db:"id" json:"id"`
	URLCanonical      string  `gorm:"column:url_canonical;size:2048;not null;uniqueIndex:idx_posts_url_canonical" db:"url_canonical" json:"urlCanonical"`
	Title             string  `gorm:"column:title;type:text;not null" db:"title" json:"title"`
	BodyOriginalRef   *string `gorm:"column:body_original_ref;type:text" db:"body_original_ref" json:"bodyOriginalRef,omitempty"`
	BodyKoSummary     *string `gorm:"column:body_ko_summary;type:text" db:"body_ko_summary" json:"bodyKoSummary,omitempty"`
	BodyEnSummary     *string `gorm:"column:body_en_summary;type:text" db:"body_en_summary" json:"bodyEnSummary,omitempty"`
	BodyKoTranslation *string `gorm:"column:body_ko_translation;type:text" db:"body_ko_translation" json:"bodyKoTranslation,omitempty"`
	BodyEnTranslation *string `gorm:"column:body_en_translation;type:text" db:"body_en_translation" json:"bodyEnTranslation,omitempty"`
	AuthorUserID      *string `gorm:"column:author_user_id;size:190;index" db:"author_user_id" json:"authorUserId,omitempty"`
	ViewCount         int64   `gorm:"column:view_count;not null;default:0" db:"view_count" json:"viewCount"`
	RankScore         float64 `gorm:"column:rank_score;not null;default:0;index" db:"rank_score" json:"rankScore"`
	CreatedAtSeconds  int64   `gorm:"column:created_at_s;not null" db:"created_at_s" json:"createdAt"`
	UpdatedAtSeconds  int64   `gorm:"column:updated_at_s;not null" db:"updated_at_s" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// PostLink records one URL variant that resolved to a post. Rows are append-only.
type PostLink struct {
	ID               string `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostID           string `gorm:"column:post_id;size:36;not null;uniqueIndex:idx_post_links_post_variant,priority:1" json:"postId"`
	URLVariant       string `gorm:"column:url_variant;size:2048;not null;uniqueIndex:idx_post_links_post_variant,priority:2" json:"urlVariant"`
	SourceType       string `gorm:"column:source_type;size:32;not null" json:"sourceType"`
	IsPrimary        bool   `gorm:"column:is_primary;not null;default:false" json:"isPrimary"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (PostLink) TableName() string {
	return "post_links"
}

// PostAttempt marks that a user other than the author submitted the same content.
type PostAttempt struct {
	ID               string  `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostID           string  `gorm:"column:post_id;size:36;not null;uniqueIndex:idx_post_attempts_post_user,priority:1" json:"postId"`
	UserID           string  `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_post_attempts_post_user,priority:2" json:"userId"`
	Note             *string `gorm:"column:note;type:text" json:"note,omitempty"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (PostAttempt) TableName() string {
	return "post_attempts"
}

// SourceMetadata stores the raw adapter payload and engagement counters for a post.
type SourceMetadata struct {
	ID                string `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostID            string `gorm:"column:post_id;size:36;not null;uniqueIndex:idx_source_metadata_post" json:"postId"`
	SourceType        string `gorm:"column:source_type;size:32;not null" json:"sourceType"`
	ExternalID        string `gorm:"column:external_id;size:190;not null" json:"externalId"`
	FetchedPayload    string `gorm:"column:fetched_payload;type:text;not null" json:"fetchedPayload"`
	EngagementSignals string `gorm:"column:engagement_signals;type:text;not null" json:"engagementSignals"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (SourceMetadata) TableName() string {
	return "source_metadata"
}

// Comment is a user comment attached to a post, optionally replying to another comment.
type Comment struct {
	ID               string  `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostID           string  `gorm:"column:post_id;size:36;not null;index:idx_comments_post" json:"postId"`
	UserID           string  `gorm:"column:user_id;size:190;not null" json:"userId"`
	ParentCommentID  *string `gorm:"column:parent_comment_id;size:36" json:"parentCommentId,omitempty"`
	Body             string  `gorm:"column:body;type:text;not null" json:"body"`
	Lang             string  `gorm:"column:lang;size:8;not null" json:"lang"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// PostDetail aggregates a post with everything attached to it.
type PostDetail struct {
	Post           Post            `json:"post"`
	Links          []PostLink      `json:"links"`
	Attempts       []PostAttempt   `json:"attempts"`
	Comments       []Comment       `json:"comments"`
	SourceMetadata *SourceMetadata `json:"sourceMetadata,omitempty"`
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Post{}, &PostLink{}, &PostAttempt{}, &SourceMetadata{}, &Comment{}}
}
