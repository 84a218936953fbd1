package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/textube/backend/internal/auth"
	"github.com/textube/backend/internal/links"
	"github.com/textube/backend/internal/posts"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "textube_user_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingLinksService = errors.New("links service dependency required")
	errMissingPostsService = errors.New("posts service dependency required")
	errMissingResolver     = errors.New("identity resolver dependency required")
)

type Dependencies struct {
	Links             *links.Service
	Posts             *posts.Service
	Resolver          *auth.Resolver
	Events            *StatusDispatcher
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Links == nil {
		return nil, errMissingLinksService
	}
	if deps.Posts == nil {
		return nil, errMissingPostsService
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		links:     deps.Links,
		posts:     deps.Posts,
		resolver:  deps.Resolver,
		events:    deps.Events,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)

	api := router.Group("/api")
	api.Use(handler.identifyCaller)
	api.POST("/links/submit", handler.handleSubmitLink)
	api.GET("/submissions/:id", handler.handleGetSubmission)
	if handler.events != nil {
		api.GET("/submissions/events", handler.handleSubmissionEvents)
	}
	api.GET("/posts", handler.handleListPosts)
	api.GET("/posts/:id", handler.handleGetPost)
	api.POST("/comments", handler.handleAddComment)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", auth.DefaultUserHeader},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	links     *links.Service
	posts     *posts.Service
	resolver  *auth.Resolver
	events    *StatusDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitLinkPayload struct {
	URL  string  `json:"url"`
	Note *string `json:"note"`
}

func (h *httpHandler) handleSubmitLink(c *gin.Context) {
	var request submitLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.links.SubmitLink(c.Request.Context(), c.GetString(userIDContextKey), request.URL, request.Note)
	if err != nil {
		if errors.Is(err, urlnorm.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
			return
		}
		h.writeInternalError(c, "submit_failed", err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetSubmission(c *gin.Context) {
	submission, err := h.links.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, links.ErrSubmissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.writeInternalError(c, "lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (h *httpHandler) handleSubmissionEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	filter := StatusFilter{UserID: userID, SubmissionID: strings.TrimSpace(c.Query("submission"))}
	// Subscribe before reading the row so no transition falls in between.
	stream, cleanup := h.events.Subscribe(ctx, filter)
	defer cleanup()

	var snapshot *links.StatusEvent
	if filter.SubmissionID != "" {
		submission, err := h.links.GetSubmission(ctx, filter.SubmissionID)
		if err != nil {
			if errors.Is(err, links.ErrSubmissionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
			h.writeInternalError(c, "lookup_failed", err)
			return
		}
		if submission.SubmittedBy == nil || *submission.SubmittedBy != userID {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		current := links.EventFromSubmission(submission)
		snapshot = &current
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if snapshot != nil {
		c.SSEvent(StatusEventName, *snapshot)
		if snapshot.Status.Terminal() {
			c.Writer.Flush()
			return
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			if snapshot != nil && staleAgainst(event, *snapshot) {
				return true
			}
			c.SSEvent(StatusEventName, event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(statusEventHeartbeat, gin.H{"at": tick.UTC().Unix()})
			return true
		}
	})
}

// staleAgainst reports whether event is already covered by the snapshot sent
// when the stream opened.
func staleAgainst(event, snapshot links.StatusEvent) bool {
	if event.AtSeconds != snapshot.AtSeconds {
		return event.AtSeconds < snapshot.AtSeconds
	}
	return event.Status == snapshot.Status
}

type listPostsPayload struct {
	Posts  []posts.Post `json:"posts"`
	Sort   string       `json:"sort"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	limit, err := optionalInt(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	offset, err := optionalInt(c.Query("offset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	query := posts.ListQuery{
		Sort:   posts.ParseSortOrder(c.Query("sort")),
		Limit:  limit,
		Offset: offset,
	}
	result, err := h.posts.ListPosts(c.Request.Context(), query)
	if err != nil {
		h.writeInternalError(c, "list_failed", err)
		return
	}
	c.JSON(http.StatusOK, listPostsPayload{
		Posts:  result,
		Sort:   string(query.Sort),
		Limit:  limit,
		Offset: offset,
	})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	detail, err := h.posts.GetPostDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, posts.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
			return
		}
		h.writeInternalError(c, "lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type addCommentPayload struct {
	PostID          string  `json:"postId"`
	Body            string  `json:"body"`
	ParentCommentID *string `json:"parentCommentId"`
	Lang            string  `json:"lang"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request addCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PostID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.posts.AddComment(c.Request.Context(), posts.CommentInput{
		PostID:          request.PostID,
		UserID:          userID,
		ParentCommentID: request.ParentCommentID,
		Body:            request.Body,
		Lang:            request.Lang,
	})
	if err != nil {
		switch {
		case errors.Is(err, posts.ErrInvalidComment):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment"})
		case errors.Is(err, posts.ErrPostNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
		default:
			h.writeInternalError(c, "comment_failed", err)
		}
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// identifyCaller stores the resolved user id; anonymous callers pass through with "".
func (h *httpHandler) identifyCaller(c *gin.Context) {
	userID, err := h.resolver.ResolveRequest(c.Request)
	if err != nil {
		h.logger.Warn("caller identity rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

type codedError interface {
	Code() string
}

func (h *httpHandler) writeInternalError(c *gin.Context, label string, err error) {
	body := gin.H{"error": label}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("error_label", label),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, body)
}

func optionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid integer parameter")
	}
	return parsed, nil
}
