package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAuthor Role = "author"
	RoleReader Role = "reader"
)

func AllRoles() []Role {
	return []Role{RoleAdmin, RoleAuthor, RoleReader}
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleAuthor, RoleReader:
		return true
	}
	return false
}

// Rank orders roles by privilege: reader < author < admin.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleAuthor:
		return 1
	}
	return 0
}

type User struct {
	ID                     int       `gorm:"primary_key;autoIncrement" json:"id"`
	Email                  string    `gorm:"unique;not null" json:"email"`
	Username               string    `gorm:"unique;not null" json:"username"`
	FirstName              string    `json:"first_name"`
	LastName               string    `json:"last_name"`
	PasswordHash           string    `gorm:"not null" json:"-"` // never exposed
	Role                   Role      `gorm:"type:varchar(10);not null;default:reader;index" json:"role"`
	IsEmailVerified        bool      `gorm:"default:false" json:"is_email_verified"`
	EmailVerificationToken string    `gorm:"uniqueIndex;not null" json:"-"` // kept after use
	IsActive               bool      `gorm:"default:false" json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DisplayName falls back to the username when no name is set.
func (u *User) DisplayName() string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Username
}

func (u *User) CanCreateBlog() bool {
	return u.Role == RoleAdmin || u.Role == RoleAuthor
}

func (u *User) CanModerate() bool {
	return u.Role == RoleAdmin
}

type RoleRequestStatus string

const (
	RoleRequestPending  RoleRequestStatus = "pending"
	RoleRequestApproved RoleRequestStatus = "approved"
	RoleRequestRejected RoleRequestStatus = "rejected"
)

// RoleRequest is a role escalation waiting for a moderator.
type RoleRequest struct {
	ID           int               `gorm:"primary_key;autoIncrement" json:"id"`
	UserID       int               `gorm:"not null;index" json:"user_id"`
	User         *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role         Role              `gorm:"type:varchar(10);not null" json:"role"`
	Status       RoleRequestStatus `gorm:"type:varchar(10);not null;default:pending;index" json:"status"`
	ReviewedByID *int              `json:"reviewed_by_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Category struct {
	ID          int       `gorm:"primary_key;autoIncrement" json:"id"`
	Name        string    `gorm:"size:100;unique;not null" json:"name"`
	Slug        string    `gorm:"size:100;unique;not null" json:"slug"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
)

func (s PostStatus) IsValid() bool {
	return s == StatusDraft || s == StatusPublished
}

type Post struct {
	ID            int        `gorm:"primary_key;autoIncrement" json:"id"`
	Title         string     `gorm:"size:200;not null" json:"title"`
	Slug          string     `gorm:"size:200;unique;not null" json:"slug"`
	AuthorID      int        `gorm:"not null;index" json:"author_id"`
	Author        *User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Body          string     `gorm:"type:text;not null" json:"body"`
	Excerpt       string     `gorm:"size:300" json:"excerpt"`
	CategoryID    *int       `gorm:"index" json:"category_id"`
	Category      *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Status        PostStatus `gorm:"type:varchar(10);not null;default:draft;index" json:"status"`
	FeaturedImage string     `json:"featured_image,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `gorm:"index" json:"published_at"`
	ViewsCount    int        `gorm:"not null;default:0" json:"views_count"`
}

func (p *Post) IsPublished() bool {
	return p.Status == StatusPublished
}

type Favorite struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID    int       `gorm:"not null;uniqueIndex:idx_favorites_user_post" json:"user_id"`
	PostID    int       `gorm:"not null;uniqueIndex:idx_favorites_user_post;index" json:"post_id"`
	Post      *Post     `gorm:"foreignKey:PostID" json:"post,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MinScore = 0
	MaxScore = 6
)

type Rating struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID    int       `gorm:"not null;uniqueIndex:idx_ratings_user_post" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PostID    int       `gorm:"not null;uniqueIndex:idx_ratings_user_post;index" json:"post_id"`
	Score     int       `gorm:"not null" json:"score"`
	Review    string    `gorm:"type:text" json:"review"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuthorProfile struct {
	ID             int        `gorm:"primary_key;autoIncrement" json:"id"`
	UserID         int        `gorm:"not null;uniqueIndex" json:"user_id"`
	Bio            string     `gorm:"size:500" json:"bio"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	Website        string     `json:"website"`
	Twitter        string     `gorm:"size:100" json:"twitter"`
	LinkedIn       string     `json:"linkedin"`
	GitHub         string     `gorm:"size:100" json:"github"`
	Facebook       string     `json:"facebook"`
	Instagram      string     `gorm:"size:100" json:"instagram"`
	Location       string     `gorm:"size:100" json:"location"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type SocialLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon"`
}

// SocialLinks expands stored handles into absolute URLs.
func (p *AuthorProfile) SocialLinks() []SocialLink {
	var links []SocialLink
	add := func(name, value, base, icon string) {
		if value == "" {
			return
		}
		url := value
		if base != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			url = fmt.Sprintf("%s/%s", base, strings.TrimPrefix(value, "@"))
		}
		links = append(links, SocialLink{Name: name, URL: url, Icon: icon})
	}

	add("Website", p.Website, "", "fas fa-globe")
	add("Twitter", p.Twitter, "https://twitter.com", "fab fa-twitter")
	add("LinkedIn", p.LinkedIn, "", "fab fa-linkedin")
	add("GitHub", p.GitHub, "https://github.com", "fab fa-github")
	add("Facebook", p.Facebook, "", "fab fa-facebook")
	add("Instagram", p.Instagram, "https://instagram.com", "fab fa-instagram")
	return links
}

type Follow struct {
	ID          int       `gorm:"primary_key;autoIncrement" json:"id"`
	FollowerID  int       `gorm:"not null;uniqueIndex:idx_follows_pair" json:"follower_id"`
	Follower    *User     `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	FollowingID int       `gorm:"not null;uniqueIndex:idx_follows_pair;index" json:"following_id"`
	Following   *User     `gorm:"foreignKey:FollowingID" json:"following,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
