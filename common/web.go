package common

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/models"
)

const (
	SessionUserKey = "user_id"
	contextUserKey = "user"

	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashError   = "error"
)

// LoadUser attaches the logged-in user, if any, to the request context.
func LoadUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := sessionUser(c, db); user != nil {
			c.Set(contextUserKey, user)
		}
		c.Next()
	}
}

// RequireAuth rejects anonymous requests: JSON clients get 401, browsers a
// redirect to the login page carrying the original path in `next`.
func RequireAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			user = sessionUser(c, db)
		}
		if user == nil {
			if WantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
				return
			}
			c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.Path))
			c.Abort()
			return
		}

		c.Set(contextUserKey, user)
		c.Set(SessionUserKey, user.ID)
		c.Next()
	}
}

// RequireModerator must run after RequireAuth.
func RequireModerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.CanModerate() {
			Fail(c, NewPermissionDenied("You do not have permission to access this page."), "/")
			c.Abort()
			return
		}
		c.Next()
	}
}

func sessionUser(c *gin.Context, db *gorm.DB) *models.User {
	session := sessions.Default(c)
	userID := session.Get(SessionUserKey)
	if userID == nil {
		return nil
	}

	var user models.User
	if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		return nil
	}
	if !user.IsActive {
		return nil
	}
	return &user
}

func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

func Login(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Set(SessionUserKey, user.ID)
	return session.Save()
}

func Logout(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	return session.Save()
}

// WantsJSON is true for AJAX and API clients.
func WantsJSON(c *gin.Context) bool {
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

func Flash(c *gin.Context, level, message string) {
	session := sessions.Default(c)
	session.AddFlash(message, level)
	if err := session.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to save flash message")
	}
}

// Flashes pops every pending flash message, grouped by level.
func Flashes(c *gin.Context) map[string][]string {
	session := sessions.Default(c)
	out := map[string][]string{}
	for _, level := range []string{FlashSuccess, FlashInfo, FlashError} {
		for _, f := range session.Flashes(level) {
			if msg, ok := f.(string); ok {
				out[level] = append(out[level], msg)
			}
		}
	}
	if err := session.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to save session")
	}
	return out
}

// Done finishes a state-changing request. JSON clients get the payload plus
// the message; browsers get a flash and a redirect.
func Done(c *gin.Context, redirect, message string, payload gin.H) {
	if WantsJSON(c) {
		body := gin.H{"message": message}
		for k, v := range payload {
			body[k] = v
		}
		c.JSON(http.StatusOK, body)
		return
	}
	Flash(c, FlashSuccess, message)
	c.Redirect(http.StatusFound, redirect)
}

// Fail renders err for the client. Unexpected errors are logged and answered
// with a 500 even for browsers; only expected failures redirect.
func Fail(c *gin.Context, err error, redirect string) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}

	message := PublicMessage(err)
	if WantsJSON(c) || redirect == "" || status == http.StatusInternalServerError {
		body := gin.H{"error": message}
		var appErr *AppError
		if errors.As(err, &appErr) {
			body["code"] = appErr.Code
			if appErr.Details != nil {
				body["details"] = appErr.Details
			}
		}
		c.JSON(status, body)
		return
	}
	Flash(c, FlashError, message)
	c.Redirect(http.StatusFound, redirect)
}
