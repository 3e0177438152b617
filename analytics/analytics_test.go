package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Post{}))
	return db
}

func createPost(t *testing.T, db *gorm.DB, authorID int, slug string, views int) models.Post {
	post := models.Post{
		Title:      slug,
		Slug:       slug,
		AuthorID:   authorID,
		Body:       "body",
		Status:     models.StatusPublished,
		ViewsCount: views,
	}
	require.NoError(t, db.Create(&post).Error)
	return post
}

func TestRecordView(t *testing.T) {
	db := setupTestDB(t)
	post := createPost(t, db, 1, "hello", 0)
	r := NewRecorder(db)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordView(context.Background(), post.ID)
		}()
	}
	wg.Wait()

	var reloaded models.Post
	require.NoError(t, db.First(&reloaded, post.ID).Error)
	assert.Equal(t, 5, reloaded.ViewsCount)
}

func TestRecordView_NilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.RecordView(context.Background(), 1) })
}

func TestTopPosts(t *testing.T) {
	db := setupTestDB(t)
	createPost(t, db, 1, "low", 5)
	createPost(t, db, 1, "high", 20)
	createPost(t, db, 1, "mid", 10)
	createPost(t, db, 2, "other-author", 100)
	r := NewRecorder(db)

	rows, err := r.TopPosts(context.Background(), 1, 2)

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "high", rows[0].Slug)
	assert.Equal(t, 100.0, rows[0].Percentage)
	assert.Equal(t, "mid", rows[1].Slug)
	assert.Equal(t, 50.0, rows[1].Percentage)

	total, err := r.TotalViews(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(35), total)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	RecordToggle("favorite", true)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `quill_http_requests_total{method="GET",route="/ping",status="200"}`)
	assert.Contains(t, w.Body.String(), `quill_engagement_toggles_total{kind="favorite",state="on"}`)
}
