package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/analytics"
	"quill/blog"
	"quill/common"
	"quill/media"
	"quill/models"
)

const topPostsLimit = 10

// AdminModule is the authoring dashboard: writing, editing and deleting
// posts, plus per-author view statistics.
type AdminModule struct {
	db        *gorm.DB
	posts     *blog.Service
	analytics *analytics.Recorder
	media     media.Store
}

func NewAdminModule(db *gorm.DB, posts *blog.Service, recorder *analytics.Recorder, store media.Store) *AdminModule {
	return &AdminModule{
		db:        db,
		posts:     posts,
		analytics: recorder,
		media:     store,
	}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/")
	group.Use(common.RequireAuth(a.db))
	{
		group.GET("/create", a.newPost)
		group.POST("/create", a.savePost)
		group.GET("/my-blogs", a.listPosts)
		group.GET("/my-blogs/stats", a.statsPage)
		group.GET("/blog/:slug/edit", a.loadPost, a.editPost)
		group.POST("/blog/:slug/edit", a.loadPost, a.updatePost)
		group.POST("/blog/:slug/autosave", a.loadPost, a.autoSavePost)
		group.POST("/blog/:slug/delete", a.loadPost, a.deletePost)
	}
}

func postPath(slug string) string {
	return "/blog/" + slug
}

// loadPost resolves :slug and stops anyone but the author or a moderator.
func (a *AdminModule) loadPost(c *gin.Context) {
	slug := c.Param("slug")
	post, err := a.posts.GetPostBySlug(c.Request.Context(), slug)
	if err != nil {
		common.Fail(c, err, "/")
		c.Abort()
		return
	}
	if !blog.CanEdit(common.CurrentUser(c), post) {
		common.Fail(c, common.NewPermissionDenied("You do not have permission to edit this blog."), postPath(slug))
		c.Abort()
		return
	}
	c.Set("post", post)
	c.Next()
}

func currentPost(c *gin.Context) *models.Post {
	post, _ := c.MustGet("post").(*models.Post)
	return post
}

// bindPost reads the post form and stores an uploaded featured image, if any.
func (a *AdminModule) bindPost(c *gin.Context) (blog.PostInput, error) {
	var in blog.PostInput
	if err := c.ShouldBind(&in); err != nil {
		return in, common.NewValidationError("Please correct the errors below.")
	}

	header, _ := c.FormFile("featured_image")
	url, err := media.UploadImage(c.Request.Context(), a.media, "blog_images", header)
	if err != nil {
		return in, err
	}
	in.FeaturedImage = url
	return in, nil
}

func (a *AdminModule) newPost(c *gin.Context) {
	if !common.CurrentUser(c).CanCreateBlog() {
		common.Fail(c, common.NewPermissionDenied("You do not have permission to create blogs."), "/")
		return
	}

	categories, err := a.posts.ListCategories(c.Request.Context())
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
		"statuses":   []models.PostStatus{models.StatusDraft, models.StatusPublished},
	})
}

func (a *AdminModule) savePost(c *gin.Context) {
	user := common.CurrentUser(c)
	if !user.CanCreateBlog() {
		common.Fail(c, common.NewPermissionDenied("You do not have permission to create blogs."), "/")
		return
	}

	in, err := a.bindPost(c)
	if err != nil {
		common.Fail(c, err, "/create")
		return
	}

	post, err := a.posts.CreatePost(c.Request.Context(), user, in)
	if err != nil {
		common.Fail(c, err, "/create")
		return
	}
	common.Done(c, postPath(post.Slug), "Blog created successfully!", gin.H{"post": post})
}

func (a *AdminModule) listPosts(c *gin.Context) {
	user := common.CurrentUser(c)
	posts, page, err := a.posts.PostsByAuthor(c.Request.Context(), user.ID, false, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "page": page})
}

func (a *AdminModule) editPost(c *gin.Context) {
	categories, err := a.posts.ListCategories(c.Request.Context())
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"post":       currentPost(c),
		"categories": categories,
	})
}

func (a *AdminModule) updatePost(c *gin.Context) {
	post := currentPost(c)

	in, err := a.bindPost(c)
	if err != nil {
		common.Fail(c, err, postPath(post.Slug)+"/edit")
		return
	}

	if err := a.posts.UpdatePost(c.Request.Context(), common.CurrentUser(c), post, in); err != nil {
		common.Fail(c, err, postPath(post.Slug)+"/edit")
		return
	}
	common.Done(c, postPath(post.Slug), "Blog updated successfully!", gin.H{"post": post})
}

// autoSavePost stores title and body of a draft without leaving the editor.
func (a *AdminModule) autoSavePost(c *gin.Context) {
	post := currentPost(c)
	if post.IsPublished() {
		common.Fail(c, common.NewPermissionDenied("Autosave is only available for drafts."), "")
		return
	}

	var request struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		common.Fail(c, common.NewValidationError("Invalid data."), "")
		return
	}
	if request.Title == "" {
		request.Title = post.Title
	}

	in := blog.PostInput{
		Title:      request.Title,
		Body:       request.Body,
		Excerpt:    post.Excerpt,
		CategoryID: post.CategoryID,
		Status:     models.StatusDraft,
	}
	if err := a.posts.UpdatePost(c.Request.Context(), common.CurrentUser(c), post, in); err != nil {
		common.Fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Draft saved automatically",
		"saved_at": time.Now().Format("15:04:05"),
	})
}

func (a *AdminModule) deletePost(c *gin.Context) {
	post := currentPost(c)
	if err := a.posts.DeletePost(c.Request.Context(), common.CurrentUser(c), post); err != nil {
		common.Fail(c, err, postPath(post.Slug))
		return
	}
	common.Done(c, "/", "Blog deleted successfully!", gin.H{"deleted": post.Slug})
}

func (a *AdminModule) statsPage(c *gin.Context) {
	user := common.CurrentUser(c)
	if a.analytics == nil {
		c.JSON(http.StatusOK, gin.H{"analytics_enabled": false})
		return
	}

	ctx := c.Request.Context()
	topPosts, err := a.analytics.TopPosts(ctx, user.ID, topPostsLimit)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	total, err := a.analytics.TotalViews(ctx, user.ID)
	if err != nil {
		log.Warn().Err(err).Int("user_id", user.ID).Msg("failed to sum views")
	}

	c.JSON(http.StatusOK, gin.H{
		"analytics_enabled": true,
		"top_posts":         topPosts,
		"total_views":       total,
	})
}
