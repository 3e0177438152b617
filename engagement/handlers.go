package engagement

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"quill/blog"
	"quill/common"
)

type EngagementModule struct {
	db      *gorm.DB
	service *Service
	posts   *blog.Service
}

func NewEngagementModule(db *gorm.DB, service *Service, posts *blog.Service) *EngagementModule {
	return &EngagementModule{db: db, service: service, posts: posts}
}

func (e *EngagementModule) RegisterRoutes(router *gin.Engine) {
	auth := router.Group("/")
	auth.Use(common.RequireAuth(e.db))
	{
		auth.POST("/blog/:slug/favorite", e.toggleFavorite)
		auth.POST("/blog/:slug/rate", e.submitRating)
		auth.GET("/my-favorites", e.myFavorites)
	}
}

func (e *EngagementModule) toggleFavorite(c *gin.Context) {
	slug := c.Param("slug")
	post, err := e.posts.GetPublishedPost(c.Request.Context(), slug)
	if err != nil {
		common.Fail(c, err, "/")
		return
	}

	on, err := e.service.ToggleFavorite(c.Request.Context(), common.CurrentUser(c), post)
	if err != nil {
		common.Fail(c, err, "/blog/"+slug)
		return
	}

	message := "Blog removed from favorites!"
	if on {
		message = "Blog added to favorites!"
	}
	common.Done(c, "/blog/"+slug, message, gin.H{"is_favorited": on})
}

func (e *EngagementModule) submitRating(c *gin.Context) {
	slug := c.Param("slug")
	post, err := e.posts.GetPublishedPost(c.Request.Context(), slug)
	if err != nil {
		common.Fail(c, err, "/")
		return
	}

	var in RatingInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Please correct the errors below."), "/blog/"+slug)
		return
	}

	ctx := c.Request.Context()
	created, err := e.service.SubmitRating(ctx, common.CurrentUser(c), post, in)
	if err != nil {
		common.Fail(c, err, "/blog/"+slug)
		return
	}

	avg, err := e.service.AverageRating(ctx, post.ID)
	if err != nil {
		common.Fail(c, err, "/blog/"+slug)
		return
	}
	count, err := e.service.RatingCount(ctx, post.ID)
	if err != nil {
		common.Fail(c, err, "/blog/"+slug)
		return
	}

	message := "Rating updated successfully!"
	if created {
		message = "Rating submitted successfully!"
	}
	common.Done(c, "/blog/"+slug, message, gin.H{
		"score":          *in.Score,
		"average_rating": avg,
		"rating_count":   count,
	})
}

func (e *EngagementModule) myFavorites(c *gin.Context) {
	user := common.CurrentUser(c)
	favorites, page, err := e.service.Favorites(c.Request.Context(), user.ID, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": favorites, "page": page})
}
