package backoffice

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"quill/accounts"
	"quill/blog"
	"quill/common"
	"quill/models"
)

// BackofficeModule is the moderator area: role requests, categories and
// user management.
type BackofficeModule struct {
	db       *gorm.DB
	accounts *accounts.Service
	posts    *blog.Service
}

func NewBackofficeModule(db *gorm.DB, accountsService *accounts.Service, posts *blog.Service) *BackofficeModule {
	return &BackofficeModule{db: db, accounts: accountsService, posts: posts}
}

func (b *BackofficeModule) RegisterRoutes(router *gin.Engine) {
	backofficeGroup := router.Group("/backoffice")
	backofficeGroup.Use(common.RequireAuth(b.db), common.RequireModerator())
	{
		backofficeGroup.GET("", b.index)

		backofficeGroup.GET("/role-requests", b.roleRequests)
		backofficeGroup.POST("/role-requests/:id/approve", b.approveRoleRequest)
		backofficeGroup.POST("/role-requests/:id/reject", b.rejectRoleRequest)

		backofficeGroup.GET("/categories", b.categories)
		backofficeGroup.POST("/categories", b.createCategory)
		backofficeGroup.POST("/categories/:id", b.updateCategory)
		backofficeGroup.POST("/categories/:id/delete", b.deleteCategory)

		backofficeGroup.GET("/users", b.users)
		backofficeGroup.POST("/users/:id/role", b.setRole)
		backofficeGroup.POST("/users/:id/activate", b.activateUser)
		backofficeGroup.POST("/users/:id/delete", b.deleteUser)

		backofficeGroup.POST("/clear-cache", b.clearCache)
	}
}

func paramID(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, common.NewNotFound("Not found.")
	}
	return id, nil
}

func (b *BackofficeModule) index(c *gin.Context) {
	db := b.db.WithContext(c.Request.Context())
	var users, posts, pending int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		common.Fail(c, err, "")
		return
	}
	if err := db.Model(&models.Post{}).Count(&posts).Error; err != nil {
		common.Fail(c, err, "")
		return
	}
	if err := db.Model(&models.RoleRequest{}).Where("status = ?", models.RoleRequestPending).Count(&pending).Error; err != nil {
		common.Fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":                 users,
		"posts":                 posts,
		"pending_role_requests": pending,
	})
}

func (b *BackofficeModule) roleRequests(c *gin.Context) {
	reqs, err := b.accounts.PendingRoleRequests(c.Request.Context(), common.CurrentUser(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"role_requests": reqs})
}

func (b *BackofficeModule) approveRoleRequest(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/role-requests")
		return
	}
	req, err := b.accounts.ApproveRoleRequest(c.Request.Context(), common.CurrentUser(c), id)
	if err != nil {
		common.Fail(c, err, "/backoffice/role-requests")
		return
	}
	common.Done(c, "/backoffice/role-requests", fmt.Sprintf("Role request approved: user is now %s.", req.Role), gin.H{"role_request": req})
}

func (b *BackofficeModule) rejectRoleRequest(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/role-requests")
		return
	}
	req, err := b.accounts.RejectRoleRequest(c.Request.Context(), common.CurrentUser(c), id)
	if err != nil {
		common.Fail(c, err, "/backoffice/role-requests")
		return
	}
	common.Done(c, "/backoffice/role-requests", "Role request rejected.", gin.H{"role_request": req})
}

func (b *BackofficeModule) categories(c *gin.Context) {
	categories, err := b.posts.ListCategories(c.Request.Context())
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (b *BackofficeModule) createCategory(c *gin.Context) {
	var in blog.CategoryInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Please correct the errors below."), "/backoffice/categories")
		return
	}
	category, err := b.posts.CreateCategory(c.Request.Context(), common.CurrentUser(c), in)
	if err != nil {
		common.Fail(c, err, "/backoffice/categories")
		return
	}
	common.Done(c, "/backoffice/categories", "Category created successfully!", gin.H{"category": category})
}

func (b *BackofficeModule) updateCategory(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/categories")
		return
	}
	var in blog.CategoryInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Please correct the errors below."), "/backoffice/categories")
		return
	}
	category, err := b.posts.UpdateCategory(c.Request.Context(), common.CurrentUser(c), id, in)
	if err != nil {
		common.Fail(c, err, "/backoffice/categories")
		return
	}
	common.Done(c, "/backoffice/categories", "Category updated successfully!", gin.H{"category": category})
}

func (b *BackofficeModule) deleteCategory(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/categories")
		return
	}
	if err := b.posts.DeleteCategory(c.Request.Context(), common.CurrentUser(c), id); err != nil {
		common.Fail(c, err, "/backoffice/categories")
		return
	}
	common.Done(c, "/backoffice/categories", "Category deleted successfully!", nil)
}

func (b *BackofficeModule) users(c *gin.Context) {
	search := c.Query("search")
	users, page, err := b.accounts.ListUsers(c.Request.Context(), common.CurrentUser(c), search, common.PageParam(c))
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "page": page, "search_query": search})
}

func (b *BackofficeModule) setRole(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	role := models.Role(c.PostForm("role"))
	if err := b.accounts.SetRole(c.Request.Context(), common.CurrentUser(c), id, role); err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	common.Done(c, "/backoffice/users", fmt.Sprintf("Role changed to %s successfully!", role), gin.H{"role": role})
}

func (b *BackofficeModule) activateUser(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	if err := b.accounts.ActivateUser(c.Request.Context(), common.CurrentUser(c), id); err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	common.Done(c, "/backoffice/users", "User activated successfully!", nil)
}

func (b *BackofficeModule) deleteUser(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	if err := b.accounts.DeleteUser(c.Request.Context(), common.CurrentUser(c), id); err != nil {
		common.Fail(c, err, "/backoffice/users")
		return
	}
	common.Done(c, "/backoffice/users", "User deleted successfully!", nil)
}

func (b *BackofficeModule) clearCache(c *gin.Context) {
	n, err := b.posts.ClearRenderCache(c.Request.Context(), common.CurrentUser(c))
	if err != nil {
		common.Fail(c, err, "/backoffice")
		return
	}
	common.Done(c, "/backoffice", "Cache cleared successfully!", gin.H{"posts": n})
}
