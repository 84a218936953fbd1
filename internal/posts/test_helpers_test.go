package posts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/textube/backend/internal/sources"
	"github.com/textube/backend/internal/urlnorm"
	"gorm.io/gorm"
)

var testEpoch = time.Unix(1700000000, 0).UTC()

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAdapter struct {
	sourceType urlnorm.SourceType
	content    sources.FetchedContent
	externalID string
	err        error

	mu    sync.Mutex
	calls int
}

func (a *stubAdapter) SourceType() urlnorm.SourceType { return a.sourceType }

func (a *stubAdapter) ExtractExternalID(string) (string, bool) {
	return a.externalID, a.externalID != ""
}

func (a *stubAdapter) FetchContent(context.Context, string) (sources.FetchedContent, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.err != nil {
		return sources.FetchedContent{}, a.err
	}
	return a.content, nil
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func int64Ptr(value int64) *int64 {
	return &value
}

func stringPtr(value string) *string {
	return &value
}

func newRedditStub() *stubAdapter {
	return &stubAdapter{
		sourceType: urlnorm.SourceReddit,
		externalID: "xyz",
		content: sources.FetchedContent{
			Title:    "A thread",
			Body:     "thread body",
			Metadata: map[string]any{"subreddit": "golang"},
			Engagement: sources.EngagementSignals{
				Upvotes:  int64Ptr(100),
				Comments: int64Ptr(4),
			},
		},
	}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:posts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, adapters ...sources.Adapter) (*Service, *gorm.DB, *testClock) {
	t.Helper()

	db := openTestDatabase(t)
	clock := &testClock{now: testEpoch}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Adapters:   sources.NewRegistry(adapters...),
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct posts service: %v", err)
	}
	return service, db, clock
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
