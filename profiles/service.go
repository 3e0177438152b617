package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"mime/multipart"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/analytics"
	"quill/common"
	"quill/media"
	"quill/models"
)

const (
	AuthorsPageSize = 12
	FollowPageSize  = 20
)

const (
	SortName      = "name"
	SortBlogs     = "blogs"
	SortFollowers = "followers"
	SortRating    = "rating"
)

// Service owns author profiles and the follow graph.
type Service struct {
	db    *gorm.DB
	media media.Store
}

func NewService(db *gorm.DB, store media.Store) *Service {
	return &Service{db: db, media: store}
}

// GetOrCreateProfile returns the user's profile, creating an empty one on
// first access. Concurrent callers end up with the same row.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID int) (*models.AuthorProfile, error) {
	db := s.db.WithContext(ctx)
	profile := models.AuthorProfile{UserID: userID}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	var stored models.AuthorProfile
	if err := db.Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &stored, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, common.NotFoundOr(err, "Author not found.")
	}
	return &user, nil
}

// UpdateProfile stores in on the user's profile. A non-nil picture replaces
// the current profile picture when a media store is configured.
func (s *Service) UpdateProfile(ctx context.Context, user *models.User, in ProfileInput, picture *multipart.FileHeader) (*models.AuthorProfile, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	profile, err := s.GetOrCreateProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	url, err := media.UploadImage(ctx, s.media, "profile_pictures", picture)
	if err != nil {
		return nil, err
	}
	if url != "" {
		profile.ProfilePicture = url
	}

	profile.Bio = in.Bio
	profile.Website = in.Website
	profile.Twitter = in.Twitter
	profile.LinkedIn = in.LinkedIn
	profile.GitHub = in.GitHub
	profile.Facebook = in.Facebook
	profile.Instagram = in.Instagram
	profile.Location = in.Location
	profile.BirthDate = in.birthDate()

	if err := s.db.WithContext(ctx).Save(profile).Error; err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// ToggleFollow flips whether follower follows target and reports the new
// state together with the target's follower count.
func (s *Service) ToggleFollow(ctx context.Context, follower, target *models.User) (bool, int64, error) {
	if follower.ID == target.ID {
		return false, 0, common.NewValidationError("You cannot follow yourself.")
	}

	following, err := s.toggleFollow(ctx, follower.ID, target.ID)
	if common.IsDuplicateKey(err) {
		following, err = s.toggleFollow(ctx, follower.ID, target.ID)
	}
	if err != nil {
		return false, 0, err
	}
	analytics.RecordToggle("follow", following)

	count, err := s.FollowersCount(ctx, target.ID)
	if err != nil {
		return false, 0, err
	}
	return following, count, nil
}

func (s *Service) toggleFollow(ctx context.Context, followerID, targetID int) (bool, error) {
	following := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND following_id = ?", followerID, targetID).Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		following = true
		return tx.Create(&models.Follow{FollowerID: followerID, FollowingID: targetID}).Error
	})
	return following, err
}

func (s *Service) IsFollowing(ctx context.Context, followerID, targetID int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, targetID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) FollowersCount(ctx context.Context, userID int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Follow{}).Where("following_id = ?", userID).Count(&count).Error
	return count, err
}

// Followers lists the users following userID, newest first.
func (s *Service) Followers(ctx context.Context, userID, page int) ([]models.Follow, common.Page, error) {
	var follows []models.Follow
	query := s.db.WithContext(ctx).Model(&models.Follow{}).Where("following_id = ?", userID)
	p, err := common.PaginatePreload(query, page, FollowPageSize, &follows, []string{"Follower"}, "created_at DESC", "id DESC")
	return follows, p, err
}

// Following lists the users userID follows, newest first.
func (s *Service) Following(ctx context.Context, userID, page int) ([]models.Follow, common.Page, error) {
	var follows []models.Follow
	query := s.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", userID)
	p, err := common.PaginatePreload(query, page, FollowPageSize, &follows, []string{"Following"}, "created_at DESC", "id DESC")
	return follows, p, err
}

// Stats are computed on demand and never stored.
type Stats struct {
	PublishedCount int64   `json:"total_blogs"`
	TotalViews     int64   `json:"total_views"`
	AverageRating  float64 `json:"average_rating"`
	Followers      int64   `json:"followers_count"`
	Following      int64   `json:"following_count"`
}

func (s *Service) Stats(ctx context.Context, userID int) (Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats

	var posts struct {
		Count int64
		Views int64
	}
	if err := db.Model(&models.Post{}).
		Select("COUNT(*) AS count, COALESCE(SUM(views_count), 0) AS views").
		Where("author_id = ? AND status = ?", userID, models.StatusPublished).
		Scan(&posts).Error; err != nil {
		return Stats{}, fmt.Errorf("post stats: %w", err)
	}
	st.PublishedCount = posts.Count
	st.TotalViews = posts.Views

	var avg sql.NullFloat64
	if err := db.Model(&models.Rating{}).
		Select("AVG(ratings.score)").
		Joins("JOIN posts ON posts.id = ratings.post_id").
		Where("posts.author_id = ? AND posts.status = ?", userID, models.StatusPublished).
		Scan(&avg).Error; err != nil {
		return Stats{}, fmt.Errorf("rating stats: %w", err)
	}
	if avg.Valid {
		st.AverageRating = avg.Float64
	}

	if err := db.Model(&models.Follow{}).Where("following_id = ?", userID).Count(&st.Followers).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&st.Following).Error; err != nil {
		return Stats{}, err
	}
	return st, nil
}

// AuthorSummary is one row of the authors directory.
type AuthorSummary struct {
	models.User
	BlogCount      int64   `json:"blog_count"`
	FollowersCount int64   `json:"followers_count"`
	AvgRating      float64 `json:"average_rating"`
}

const (
	blogCountExpr      = "(SELECT COUNT(*) FROM posts WHERE posts.author_id = users.id AND posts.status = 'published')"
	followersCountExpr = "(SELECT COUNT(*) FROM follows WHERE follows.following_id = users.id)"
	avgRatingExpr      = "(SELECT AVG(ratings.score) FROM ratings JOIN posts ON posts.id = ratings.post_id WHERE posts.author_id = users.id AND posts.status = 'published')"
)

func authorOrder(sort string) []string {
	switch sort {
	case SortBlogs:
		return []string{blogCountExpr + " DESC", "users.id ASC"}
	case SortFollowers:
		return []string{followersCountExpr + " DESC", "users.id ASC"}
	case SortRating:
		return []string{"COALESCE(" + avgRatingExpr + ", -1) DESC", "users.id ASC"}
	default:
		return []string{"users.first_name ASC", "users.last_name ASC", "users.id ASC"}
	}
}

// ListAuthors pages through users who may write. search matches names,
// username and profile bio case-insensitively.
func (s *Service) ListAuthors(ctx context.Context, search, sort string, page int) ([]AuthorSummary, common.Page, error) {
	query := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("users.role IN ?", []models.Role{models.RoleAuthor, models.RoleAdmin})

	if like := common.ContainsPattern(s.db, search); like != "" {
		esc := common.LikeEscape
		query = query.Where(
			"LOWER(users.first_name) LIKE ?"+esc+" OR LOWER(users.last_name) LIKE ?"+esc+" OR LOWER(users.username) LIKE ?"+esc+" OR "+
				"EXISTS (SELECT 1 FROM author_profiles WHERE author_profiles.user_id = users.id AND LOWER(author_profiles.bio) LIKE ?"+esc+")",
			like, like, like, like,
		)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, common.Page{}, err
	}
	p := common.NewPage(page, AuthorsPageSize, total)

	q := query.Session(&gorm.Session{}).Select(
		"users.*, " +
			blogCountExpr + " AS blog_count, " +
			followersCountExpr + " AS followers_count, " +
			"COALESCE(" + avgRatingExpr + ", 0) AS avg_rating",
	)
	for _, o := range authorOrder(sort) {
		q = q.Order(o)
	}

	var authors []AuthorSummary
	if err := q.Offset((p.Number - 1) * AuthorsPageSize).Limit(AuthorsPageSize).Scan(&authors).Error; err != nil {
		return nil, common.Page{}, err
	}
	return authors, p, nil
}
