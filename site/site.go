package site

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/analytics"
	"quill/blog"
	"quill/common"
	"quill/engagement"
	"quill/models"
)

const dateLayout = "2006-01-02"

// SiteModule serves the public read side: home search, post detail,
// category and author listings, plus the sitemap.
type SiteModule struct {
	db         *gorm.DB
	posts      *blog.Service
	engagement *engagement.Service
	analytics  *analytics.Recorder
	domain     string
}

func NewSiteModule(db *gorm.DB, posts *blog.Service, engagementService *engagement.Service, recorder *analytics.Recorder, domain string) *SiteModule {
	return &SiteModule{
		db:         db,
		posts:      posts,
		engagement: engagementService,
		analytics:  recorder,
		domain:     strings.TrimSuffix(domain, "/"),
	}
}

func (s *SiteModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/", s.index)
	router.GET("/blog/:slug", s.postDetail)
	router.GET("/categories", s.categories)
	router.GET("/category/:slug", s.categoryDetail)
	router.GET("/author/:username", s.authorPosts)
	router.GET("/sitemap.xml", s.sitemap)
	router.GET("/health", s.health)
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// queryDate ignores malformed dates.
func queryDate(c *gin.Context, key string) *time.Time {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

func postIDs(groups ...[]models.Post) []int {
	var ids []int
	for _, posts := range groups {
		for _, p := range posts {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s *SiteModule) index(c *gin.Context) {
	ctx := c.Request.Context()
	filters := blog.SearchFilters{
		Text:       c.Query("query"),
		CategoryID: queryInt(c, "category"),
		AuthorID:   queryInt(c, "author"),
		DateFrom:   queryDate(c, "date_from"),
		DateTo:     queryDate(c, "date_to"),
	}
	sort := c.DefaultQuery("sort", blog.SortLatest)

	posts, page, err := s.posts.Search(ctx, filters, sort, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	featured, err := s.posts.Featured(ctx, blog.FeaturedCount)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	averages, err := s.posts.AverageRatings(ctx, postIDs(posts, featured))
	if err != nil {
		common.Fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":           posts,
		"page":            page,
		"featured":        featured,
		"average_ratings": averages,
		"sort_by":         sort,
		"query":           filters.Text,
	})
}

func (s *SiteModule) postDetail(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := s.posts.GetPublishedPost(ctx, c.Param("slug"))
	if err != nil {
		common.Fail(c, err, "")
		return
	}

	s.analytics.RecordView(ctx, post.ID)
	post.ViewsCount++

	var (
		isFavorited bool
		userRating  *models.Rating
	)
	if user := common.CurrentUser(c); user != nil {
		if isFavorited, err = s.engagement.IsFavorited(ctx, user.ID, post.ID); err != nil {
			common.Fail(c, err, "")
			return
		}
		if userRating, err = s.engagement.UserRating(ctx, user.ID, post.ID); err != nil {
			common.Fail(c, err, "")
			return
		}
	}

	ratings, err := s.engagement.Ratings(ctx, post.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	average, err := s.engagement.AverageRating(ctx, post.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	count, err := s.engagement.RatingCount(ctx, post.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	related, err := s.posts.RelatedPosts(ctx, post, blog.RelatedCount)
	if err != nil {
		common.Fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"post":           post,
		"body_html":      s.posts.Render(ctx, post),
		"is_favorited":   isFavorited,
		"user_rating":    userRating,
		"ratings":        ratings,
		"average_rating": average,
		"rating_count":   count,
		"related_posts":  related,
	})
}

func (s *SiteModule) categories(c *gin.Context) {
	categories, err := s.posts.ListCategories(c.Request.Context())
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *SiteModule) categoryDetail(c *gin.Context) {
	ctx := c.Request.Context()
	category, err := s.posts.CategoryBySlug(ctx, c.Param("slug"))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	posts, page, err := s.posts.PostsInCategory(ctx, category.ID, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "posts": posts, "page": page})
}

func (s *SiteModule) authorPosts(c *gin.Context) {
	ctx := c.Request.Context()
	var author models.User
	if err := s.db.WithContext(ctx).Where("username = ?", c.Param("username")).First(&author).Error; err != nil {
		common.Fail(c, common.NotFoundOr(err, "Author not found."), "")
		return
	}
	posts, page, err := s.posts.PostsByAuthor(ctx, author.ID, true, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"author": author, "posts": posts, "page": page})
}

func writeURL(sb *strings.Builder, loc, lastmod, changefreq, priority string) {
	sb.WriteString("  <url>\n")
	sb.WriteString("    <loc>" + loc + "</loc>\n")
	if lastmod != "" {
		sb.WriteString("    <lastmod>" + lastmod + "</lastmod>\n")
	}
	sb.WriteString("    <changefreq>" + changefreq + "</changefreq>\n")
	sb.WriteString("    <priority>" + priority + "</priority>\n")
	sb.WriteString("  </url>\n")
}

func (s *SiteModule) sitemap(c *gin.Context) {
	ctx := c.Request.Context()

	var sitemap strings.Builder
	sitemap.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sitemap.WriteString("\n")
	sitemap.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	sitemap.WriteString("\n")

	writeURL(&sitemap, s.domain+"/", "", "daily", "1.0")
	writeURL(&sitemap, s.domain+"/categories", "", "weekly", "0.6")
	writeURL(&sitemap, s.domain+"/profiles/authors", "", "weekly", "0.6")

	categories, err := s.posts.ListCategories(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sitemap: failed to list categories")
	}
	for _, category := range categories {
		writeURL(&sitemap, s.domain+"/category/"+category.Slug, "", "weekly", "0.5")
	}

	entries, err := s.posts.SitemapEntries(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sitemap: failed to list posts")
	}
	for _, entry := range entries {
		writeURL(&sitemap, s.domain+"/blog/"+entry.Slug, entry.UpdatedAt.Format(time.RFC3339), "monthly", "0.8")
	}

	sitemap.WriteString("</urlset>\n")

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, sitemap.String())
}

func (s *SiteModule) health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
