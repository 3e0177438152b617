package site

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/analytics"
	"quill/blog"
	"quill/common"
	"quill/database"
	"quill/engagement"
	"quill/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), common.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.RunMigrations(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	user := &models.User{
		Email:                  username + "@example.com",
		Username:               username,
		PasswordHash:           "hashedpassword",
		Role:                   models.RoleAuthor,
		EmailVerificationToken: username + "-token",
		IsActive:               true,
		IsEmailVerified:        true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestPost(t *testing.T, db *gorm.DB, authorID int, slug string, categoryID *int, status models.PostStatus, publishedAt time.Time) *models.Post {
	post := &models.Post{
		Title:      slug,
		Slug:       slug,
		AuthorID:   authorID,
		Body:       "# " + slug,
		CategoryID: categoryID,
		Status:     status,
	}
	if status == models.StatusPublished {
		post.PublishedAt = &publishedAt
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func createTestCategory(t *testing.T, db *gorm.DB, name string) *models.Category {
	category := &models.Category{Name: name, Slug: strings.ToLower(name)}
	require.NoError(t, db.Create(category).Error)
	return category
}

func setupRouter(t *testing.T, db *gorm.DB, user *models.User) (*gin.Engine, []*http.Cookie) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions("quill_session", cookie.NewStore([]byte("test-secret"))))
	router.Use(common.LoadUser(db))
	router.GET("/test-login", func(c *gin.Context) {
		require.NoError(t, common.Login(c, user))
		c.Status(http.StatusNoContent)
	})
	posts := blog.NewService(db, nil)
	NewSiteModule(db, posts, engagement.NewService(db, nil), analytics.NewRecorder(db), "https://quill.test/").RegisterRoutes(router)

	var cookies []*http.Cookie
	if user != nil {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test-login", nil))
		cookies = w.Result().Cookies()
	}
	return router, cookies
}

func get(router *gin.Engine, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func slugs(t *testing.T, v interface{}) []string {
	items, ok := v.([]interface{})
	require.True(t, ok)
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.(map[string]interface{})["slug"].(string)
	}
	return out
}

func day(s string) time.Time {
	t, _ := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	return t
}

func TestIndex(t *testing.T) {
	db := setupTestDB(t)
	ana := createTestUser(t, db, "ana")
	bob := createTestUser(t, db, "bob")
	golang := createTestCategory(t, db, "Go")
	createTestPost(t, db, ana.ID, "go-tips", &golang.ID, models.StatusPublished, day("2024-03-01 10:00"))
	createTestPost(t, db, bob.ID, "gardening", nil, models.StatusPublished, day("2024-03-05 23:30"))
	createTestPost(t, db, ana.ID, "secret-go", &golang.ID, models.StatusDraft, time.Time{})
	router, _ := setupRouter(t, db, nil)

	t.Run("latest first without drafts", func(t *testing.T) {
		w := get(router, "/", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, []string{"gardening", "go-tips"}, slugs(t, body["posts"]))
		assert.Equal(t, "latest", body["sort_by"])
		assert.Len(t, body["featured"], 2)
	})

	t.Run("text and category filters", func(t *testing.T) {
		w := get(router, "/?query=GO", nil)
		assert.Equal(t, []string{"go-tips"}, slugs(t, decode(t, w)["posts"]))

		w = get(router, "/?category="+strconv.Itoa(golang.ID), nil)
		assert.Equal(t, []string{"go-tips"}, slugs(t, decode(t, w)["posts"]))
	})

	t.Run("author filter", func(t *testing.T) {
		w := get(router, "/?author="+strconv.Itoa(bob.ID), nil)
		assert.Equal(t, []string{"gardening"}, slugs(t, decode(t, w)["posts"]))
	})

	t.Run("date range includes the whole last day", func(t *testing.T) {
		w := get(router, "/?date_from=2024-03-02&date_to=2024-03-05", nil)
		assert.Equal(t, []string{"gardening"}, slugs(t, decode(t, w)["posts"]))

		w = get(router, "/?date_from=garbage", nil)
		assert.Len(t, slugs(t, decode(t, w)["posts"]), 2)
	})
}

func TestPostDetail(t *testing.T) {
	db := setupTestDB(t)
	ana := createTestUser(t, db, "ana")
	reader := createTestUser(t, db, "reader")
	golang := createTestCategory(t, db, "Go")
	post := createTestPost(t, db, ana.ID, "go-tips", &golang.ID, models.StatusPublished, day("2024-03-01 10:00"))
	createTestPost(t, db, ana.ID, "go-more", &golang.ID, models.StatusPublished, day("2024-03-02 10:00"))
	createTestPost(t, db, ana.ID, "draft", nil, models.StatusDraft, time.Time{})
	require.NoError(t, db.Create(&models.Favorite{UserID: reader.ID, PostID: post.ID}).Error)
	require.NoError(t, db.Create(&models.Rating{UserID: reader.ID, PostID: post.ID, Score: 5, Review: "great"}).Error)

	t.Run("anonymous", func(t *testing.T) {
		router, _ := setupRouter(t, db, nil)
		w := get(router, "/blog/go-tips", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode(t, w)
		assert.Contains(t, body["body_html"], "<h1")
		assert.Equal(t, false, body["is_favorited"])
		assert.Nil(t, body["user_rating"])
		assert.Equal(t, float64(5), body["average_rating"])
		assert.Equal(t, float64(1), body["rating_count"])
		assert.Equal(t, []string{"go-more"}, slugs(t, body["related_posts"]))
		assert.Equal(t, float64(1), body["post"].(map[string]interface{})["views_count"])
	})

	t.Run("logged in reader sees own state", func(t *testing.T) {
		router, cookies := setupRouter(t, db, reader)
		body := decode(t, get(router, "/blog/go-tips", cookies))
		assert.Equal(t, true, body["is_favorited"])
		require.NotNil(t, body["user_rating"])
		assert.Equal(t, float64(5), body["user_rating"].(map[string]interface{})["score"])
	})

	t.Run("views are counted", func(t *testing.T) {
		var stored models.Post
		require.NoError(t, db.First(&stored, post.ID).Error)
		assert.Equal(t, 2, stored.ViewsCount)
	})

	t.Run("drafts and unknown slugs are not found", func(t *testing.T) {
		router, _ := setupRouter(t, db, nil)
		assert.Equal(t, http.StatusNotFound, get(router, "/blog/draft", nil).Code)
		assert.Equal(t, http.StatusNotFound, get(router, "/blog/nope", nil).Code)
	})
}

func TestCategoryAndAuthorPages(t *testing.T) {
	db := setupTestDB(t)
	ana := createTestUser(t, db, "ana")
	golang := createTestCategory(t, db, "Go")
	createTestCategory(t, db, "Rust")
	createTestPost(t, db, ana.ID, "go-tips", &golang.ID, models.StatusPublished, day("2024-03-01 10:00"))
	createTestPost(t, db, ana.ID, "no-category", nil, models.StatusPublished, day("2024-03-02 10:00"))
	createTestPost(t, db, ana.ID, "draft", &golang.ID, models.StatusDraft, time.Time{})
	router, _ := setupRouter(t, db, nil)

	w := get(router, "/category/go", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"go-tips"}, slugs(t, decode(t, w)["posts"]))
	assert.Equal(t, http.StatusNotFound, get(router, "/category/missing", nil).Code)

	w = get(router, "/author/ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"no-category", "go-tips"}, slugs(t, decode(t, w)["posts"]))
	assert.Equal(t, http.StatusNotFound, get(router, "/author/ghost", nil).Code)

	w = get(router, "/categories", nil)
	categories := decode(t, w)["categories"].([]interface{})
	require.Len(t, categories, 2)
	first := categories[0].(map[string]interface{})
	assert.Equal(t, "Go", first["name"])
	assert.Equal(t, float64(1), first["post_count"])
}

func TestSitemap(t *testing.T) {
	db := setupTestDB(t)
	ana := createTestUser(t, db, "ana")
	golang := createTestCategory(t, db, "Go")
	createTestPost(t, db, ana.ID, "go-tips", &golang.ID, models.StatusPublished, day("2024-03-01 10:00"))
	createTestPost(t, db, ana.ID, "draft", nil, models.StatusDraft, time.Time{})
	router, _ := setupRouter(t, db, nil)

	w := get(router, "/sitemap.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")

	xml := w.Body.String()
	assert.Contains(t, xml, "<loc>https://quill.test/</loc>")
	assert.Contains(t, xml, "<loc>https://quill.test/category/go</loc>")
	assert.Contains(t, xml, "<loc>https://quill.test/blog/go-tips</loc>")
	assert.NotContains(t, xml, "/blog/draft")
}

func TestHealth(t *testing.T) {
	db := setupTestDB(t)
	router, _ := setupRouter(t, db, nil)

	w := get(router, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
