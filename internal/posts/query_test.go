package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/textube/backend/internal/urlnorm"
)

func seedPosts(t *testing.T, service *Service, clock *testClock, urls ...string) []Post {
	t.Helper()
	created := make([]Post, 0, len(urls))
	for _, url := range urls {
		post, err := service.CreatePostFromLink(context.Background(), url, urlnorm.SourceReddit, nil)
		if err != nil {
			t.Fatalf("seed %s: %v", url, err)
		}
		created = append(created, post)
		clock.Advance(time.Hour)
	}
	return created
}

func TestListPostsOrders(t *testing.T) {
	service, db, clock := newTestService(t, newRedditStub())
	seeded := seedPosts(t, service, clock,
		"https://www.reddit.com/r/a/comments/1/",
		"https://www.reddit.com/r/a/comments/2/",
		"https://www.reddit.com/r/a/comments/3/",
	)

	if err := db.Model(&Post{}).Where("id = ?", seeded[0].ID).Updates(map[string]any{"rank_score": 50.0, "view_count": 1}).Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.Model(&Post{}).Where("id = ?", seeded[1].ID).Updates(map[string]any{"rank_score": 10.0, "view_count": 99}).Error; err != nil {
		t.Fatalf("update: %v", err)
	}

	testCases := []struct {
		sort     SortOrder
		expected []string
	}{
		{sort: SortRank, expected: []string{seeded[0].ID, seeded[1].ID, seeded[2].ID}},
		{sort: SortRecent, expected: []string{seeded[2].ID, seeded[1].ID, seeded[0].ID}},
		{sort: SortViews, expected: []string{seeded[1].ID, seeded[0].ID, seeded[2].ID}},
	}
	for _, testCase := range testCases {
		t.Run(string(testCase.sort), func(t *testing.T) {
			listed, err := service.ListPosts(context.Background(), ListQuery{Sort: testCase.sort})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(listed) != len(testCase.expected) {
				t.Fatalf("expected %d posts, got %d", len(testCase.expected), len(listed))
			}
			for index, post := range listed {
				if post.ID != testCase.expected[index] {
					t.Fatalf("position %d: expected %s, got %s", index, testCase.expected[index], post.ID)
				}
			}
		})
	}
}

func TestListPostsPaginates(t *testing.T) {
	service, _, clock := newTestService(t, newRedditStub())
	seeded := seedPosts(t, service, clock,
		"https://www.reddit.com/r/a/comments/1/",
		"https://www.reddit.com/r/a/comments/2/",
		"https://www.reddit.com/r/a/comments/3/",
	)

	page, err := service.ListPosts(context.Background(), ListQuery{Sort: SortRecent, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].ID != seeded[1].ID {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page[0].BodyOriginalRef == nil {
		t.Fatalf("expected nullable columns to scan")
	}

	page, err = service.ListPosts(context.Background(), ListQuery{Limit: -1, Offset: -5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected defaults to return all posts, got %d", len(page))
	}
}

func TestParseSortOrder(t *testing.T) {
	testCases := map[string]SortOrder{
		"":        SortRank,
		"rank":    SortRank,
		"RECENT":  SortRecent,
		" views ": SortViews,
		"bogus":   SortRank,
	}
	for input, expected := range testCases {
		if got := ParseSortOrder(input); got != expected {
			t.Fatalf("ParseSortOrder(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestGetPostDetailIncrementsViews(t *testing.T) {
	service, _, clock := newTestService(t, newRedditStub())
	post := seedPosts(t, service, clock, threadURL)[0]
	ctx := context.Background()

	if _, err := service.RecordAttempt(ctx, post.ID, "user-b", nil); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if _, err := service.AddComment(ctx, CommentInput{PostID: post.ID, UserID: "user-b", Body: "first"}); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	first, err := service.GetPostDetail(ctx, post.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Post.ViewCount != 1 {
		t.Fatalf("expected view count 1, got %d", first.Post.ViewCount)
	}
	if len(first.Links) != 1 || len(first.Attempts) != 1 || len(first.Comments) != 1 {
		t.Fatalf("unexpected detail: %+v", first)
	}
	if first.SourceMetadata == nil || first.SourceMetadata.ExternalID != "xyz" {
		t.Fatalf("expected source metadata in detail")
	}

	second, err := service.GetPostDetail(ctx, post.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Post.ViewCount != 2 {
		t.Fatalf("expected view count 2, got %d", second.Post.ViewCount)
	}

	if _, err := service.GetPostDetail(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}

func TestAddCommentValidatesAndDefaultsLanguage(t *testing.T) {
	service, db, clock := newTestService(t, newRedditStub())
	post := seedPosts(t, service, clock, threadURL)[0]
	ctx := context.Background()

	comment, err := service.AddComment(ctx, CommentInput{PostID: post.ID, UserID: "user-b", Body: "  hello  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comment.Lang != "ko" || comment.Body != "hello" {
		t.Fatalf("unexpected comment %+v", comment)
	}

	reply, err := service.AddComment(ctx, CommentInput{PostID: post.ID, UserID: "user-c", Body: "reply", Lang: "en", ParentCommentID: &comment.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ParentCommentID == nil || *reply.ParentCommentID != comment.ID {
		t.Fatalf("expected reply to reference parent")
	}

	stored, err := service.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if stored.RankScore <= 0 {
		t.Fatalf("expected rank to be refreshed after comment, got %f", stored.RankScore)
	}

	invalid := []CommentInput{
		{PostID: post.ID, UserID: "user-b", Body: "   "},
		{PostID: post.ID, UserID: "", Body: "anonymous"},
		{PostID: post.ID, UserID: "user-b", Body: "orphan", ParentCommentID: stringPtr("nope")},
	}
	for _, input := range invalid {
		if _, err := service.AddComment(ctx, input); !errors.Is(err, ErrInvalidComment) {
			t.Fatalf("expected ErrInvalidComment for %+v, got %v", input, err)
		}
	}
	if _, err := service.AddComment(ctx, CommentInput{PostID: "missing", UserID: "user-b", Body: "x"}); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
	if count := countRows(t, db, &Comment{}); count != 2 {
		t.Fatalf("expected two comments, got %d", count)
	}
}
