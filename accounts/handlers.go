package accounts

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"quill/common"
	"quill/models"
)

type AccountsModule struct {
	db      *gorm.DB
	service *Service
}

func NewAccountsModule(db *gorm.DB, service *Service) *AccountsModule {
	return &AccountsModule{db: db, service: service}
}

func (a *AccountsModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/register", a.registerPage)
	router.POST("/register", a.registerPost)
	router.GET("/login", a.loginPage)
	router.POST("/login", a.loginPost)
	router.GET("/logout", a.logout)
	router.POST("/logout", a.logout)
	router.GET("/verify/:token", a.verifyEmail)
	router.GET("/messages", a.messages)

	account := router.Group("/account")
	account.Use(common.RequireAuth(a.db))
	{
		account.GET("", a.profile)
		account.POST("", a.updateProfile)
		account.POST("/password", a.changePassword)
		account.POST("/role", a.changeRole)
		account.POST("/delete", a.deleteAccount)
	}
}

func (a *AccountsModule) registerPage(c *gin.Context) {
	if common.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roles":    []models.Role{models.RoleReader, models.RoleAuthor},
		"messages": common.Flashes(c),
	})
}

func (a *AccountsModule) registerPost(c *gin.Context) {
	var in RegisterInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Invalid registration data."), "/register")
		return
	}

	user, err := a.service.Register(c.Request.Context(), in)
	if err != nil {
		common.Fail(c, err, "/register")
		return
	}

	common.Done(c, "/login",
		"Registration successful! Please check your email to verify your account.",
		gin.H{"user": user})
}

func (a *AccountsModule) loginPage(c *gin.Context) {
	if common.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, safeNext(c.Query("next")))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"next":     safeNext(c.Query("next")),
		"messages": common.Flashes(c),
	})
}

func (a *AccountsModule) loginPost(c *gin.Context) {
	var in LoginInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Invalid login data."), "/login")
		return
	}

	next := safeNext(c.Query("next"))
	retry := "/login"
	if next != "/" {
		retry += "?next=" + next
	}

	user, err := a.service.Authenticate(c.Request.Context(), in)
	if err != nil {
		common.Fail(c, err, retry)
		return
	}
	if err := common.Login(c, user); err != nil {
		common.Fail(c, fmt.Errorf("save session: %w", err), retry)
		return
	}

	common.Done(c, next, fmt.Sprintf("Welcome back, %s!", user.DisplayName()), gin.H{"user": user, "next": next})
}

// safeNext only follows local paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

func (a *AccountsModule) logout(c *gin.Context) {
	if err := common.Logout(c); err != nil {
		common.Fail(c, fmt.Errorf("clear session: %w", err), "/")
		return
	}
	common.Done(c, "/", "You have been logged out successfully.", nil)
}

func (a *AccountsModule) verifyEmail(c *gin.Context) {
	alreadyVerified, err := a.service.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		common.Fail(c, err, "/login")
		return
	}

	if alreadyVerified {
		if common.WantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{"message": "Email already verified.", "already_verified": true})
			return
		}
		common.Flash(c, common.FlashInfo, "Email already verified.")
		c.Redirect(http.StatusFound, "/login")
		return
	}
	common.Done(c, "/login", "Email verified successfully! You can now log in.", gin.H{"already_verified": false})
}

func (a *AccountsModule) messages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": common.Flashes(c)})
}

func (a *AccountsModule) profile(c *gin.Context) {
	user := common.CurrentUser(c)
	pending, err := a.service.PendingRoleRequest(c.Request.Context(), user.ID)
	if err != nil {
		common.Fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":                 user,
		"can_create_blog":      user.CanCreateBlog(),
		"can_moderate":         user.CanModerate(),
		"pending_role_request": pending,
		"roles":                models.AllRoles(),
		"messages":             common.Flashes(c),
	})
}

func (a *AccountsModule) updateProfile(c *gin.Context) {
	var in AccountInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Invalid profile data."), "/account")
		return
	}

	user := common.CurrentUser(c)
	if err := a.service.UpdateAccount(c.Request.Context(), user, in); err != nil {
		common.Fail(c, err, "/account")
		return
	}
	common.Done(c, "/account", "Profile updated successfully!", gin.H{"user": user})
}

func (a *AccountsModule) changePassword(c *gin.Context) {
	var in PasswordInput
	if err := c.ShouldBind(&in); err != nil {
		common.Fail(c, common.NewValidationError("Invalid password data."), "/account")
		return
	}

	if err := a.service.ChangePassword(c.Request.Context(), common.CurrentUser(c), in); err != nil {
		common.Fail(c, err, "/account")
		return
	}
	common.Done(c, "/account", "Your password was changed.", nil)
}

func (a *AccountsModule) changeRole(c *gin.Context) {
	role := models.Role(c.PostForm("role"))
	if role == "" {
		var body struct {
			Role models.Role `json:"role"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			role = body.Role
		}
	}

	user := common.CurrentUser(c)
	applied, err := a.service.ChangeRole(c.Request.Context(), user, role)
	if err != nil {
		common.Fail(c, err, "/account")
		return
	}

	if applied {
		common.Done(c, "/account", fmt.Sprintf("Role changed to %s successfully!", role),
			gin.H{"role": user.Role, "pending": false})
		return
	}
	common.Done(c, "/account", fmt.Sprintf("Your request to become %s was sent to a moderator.", role),
		gin.H{"role": user.Role, "pending": true})
}

func (a *AccountsModule) deleteAccount(c *gin.Context) {
	user := common.CurrentUser(c)
	if err := a.service.DeleteUser(c.Request.Context(), user, user.ID); err != nil {
		common.Fail(c, err, "/account")
		return
	}
	if err := common.Logout(c); err != nil {
		common.Fail(c, fmt.Errorf("clear session: %w", err), "/")
		return
	}
	common.Done(c, "/", "Your account has been deleted.", nil)
}
