package profiles

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"quill/blog"
	"quill/common"
)

type ProfilesModule struct {
	db      *gorm.DB
	service *Service
	posts   *blog.Service
}

func NewProfilesModule(db *gorm.DB, service *Service, posts *blog.Service) *ProfilesModule {
	return &ProfilesModule{db: db, service: service, posts: posts}
}

func (p *ProfilesModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/profiles")
	group.GET("/authors", p.listAuthors)
	group.GET("/author/:username", p.authorDetail)

	auth := group.Group("")
	auth.Use(common.RequireAuth(p.db))
	{
		auth.POST("/author/:username/follow", p.toggleFollow)
		auth.GET("/author/:username/followers", p.followers)
		auth.GET("/author/:username/following", p.following)
		auth.GET("/profile/edit", p.editProfilePage)
		auth.POST("/profile/edit", p.editProfile)
	}
}

func authorPath(username string) string {
	return "/profiles/author/" + username
}

func (p *ProfilesModule) listAuthors(c *gin.Context) {
	search := c.Query("search")
	sort := c.DefaultQuery("sort", SortName)

	authors, page, err := p.service.ListAuthors(c.Request.Context(), search, sort, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authors":      authors,
		"page":         page,
		"search_query": search,
		"sort_by":      sort,
	})
}

func (p *ProfilesModule) authorDetail(c *gin.Context) {
	ctx := c.Request.Context()
	author, err := p.service.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		common.Fail(c, err, "")
		return
	}

	profile, err := p.service.GetOrCreateProfile(ctx, author.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	posts, page, err := p.posts.PostsByAuthor(ctx, author.ID, true, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	stats, err := p.service.Stats(ctx, author.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}

	isFollowing := false
	if viewer := common.CurrentUser(c); viewer != nil && viewer.ID != author.ID {
		if isFollowing, err = p.service.IsFollowing(ctx, viewer.ID, author.ID); err != nil {
			common.Fail(c, err, "")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"author":       author,
		"profile":      profile,
		"social_links": profile.SocialLinks(),
		"posts":        posts,
		"page":         page,
		"stats":        stats,
		"is_following": isFollowing,
	})
}

func (p *ProfilesModule) toggleFollow(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")
	target, err := p.service.GetByUsername(ctx, username)
	if err != nil {
		common.Fail(c, err, "/profiles/authors")
		return
	}

	following, count, err := p.service.ToggleFollow(ctx, common.CurrentUser(c), target)
	if err != nil {
		common.Fail(c, err, authorPath(username))
		return
	}

	message := fmt.Sprintf("You have unfollowed %s.", target.DisplayName())
	if following {
		message = fmt.Sprintf("You are now following %s!", target.DisplayName())
	}
	common.Done(c, authorPath(username), message, gin.H{
		"is_following":    following,
		"followers_count": count,
	})
}

func (p *ProfilesModule) followers(c *gin.Context) {
	author, err := p.service.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	follows, page, err := p.service.Followers(c.Request.Context(), author.ID, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"author": author, "title": "Followers", "follows": follows, "page": page})
}

func (p *ProfilesModule) following(c *gin.Context) {
	author, err := p.service.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	follows, page, err := p.service.Following(c.Request.Context(), author.ID, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"author": author, "title": "Following", "follows": follows, "page": page})
}

func (p *ProfilesModule) editProfilePage(c *gin.Context) {
	profile, err := p.service.GetOrCreateProfile(c.Request.Context(), common.CurrentUser(c).ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (p *ProfilesModule) editProfile(c *gin.Context) {
	user := common.CurrentUser(c)

	var in ProfileInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Please correct the errors below."), "/profiles/profile/edit")
		return
	}
	picture, _ := c.FormFile("profile_picture")

	profile, err := p.service.UpdateProfile(c.Request.Context(), user, in, picture)
	if err != nil {
		common.Fail(c, err, "/profiles/profile/edit")
		return
	}
	common.Done(c, authorPath(user.Username), "Profile updated successfully!", gin.H{"profile": profile})
}
