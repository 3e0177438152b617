package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/analytics"
	"quill/common"
	"quill/email"
	"quill/models"
)

const FavoritesPageSize = 10

// Service handles favorites and ratings on published posts.
type Service struct {
	db       *gorm.DB
	notifier *email.Notifier
}

func NewService(db *gorm.DB, notifier *email.Notifier) *Service {
	return &Service{db: db, notifier: notifier}
}

type RatingInput struct {
	Score  *int   `form:"score" json:"score"`
	Review string `form:"review" json:"review"`
}

func (r RatingInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Score,
			validation.NotNil.Error("Score is required."),
			validation.Min(models.MinScore).Error("Score must be between 0 and 6."),
			validation.Max(models.MaxScore).Error("Score must be between 0 and 6."),
		),
	)
}

func requirePublished(post *models.Post) error {
	if post == nil || !post.IsPublished() {
		return common.NewNotFound("Blog not found.")
	}
	return nil
}

// ToggleFavorite flips the user's favorite on post and returns the new state.
// Adding a favorite mails the user a confirmation in the background.
func (s *Service) ToggleFavorite(ctx context.Context, user *models.User, post *models.Post) (bool, error) {
	if err := requirePublished(post); err != nil {
		return false, err
	}

	on, err := s.toggleFavorite(ctx, user.ID, post.ID)
	if common.IsDuplicateKey(err) {
		on, err = s.toggleFavorite(ctx, user.ID, post.ID)
	}
	if err != nil {
		return false, fmt.Errorf("toggle favorite: %w", err)
	}

	analytics.RecordToggle("favorite", on)
	if on {
		subject, body := email.FavoriteMessage(post.Title)
		s.notifier.Notify(user.Email, subject, body)
	}
	return on, nil
}

func (s *Service) toggleFavorite(ctx context.Context, userID, postID int) (bool, error) {
	var on bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			on = false
			return nil
		}
		on = true
		return tx.Create(&models.Favorite{UserID: userID, PostID: postID}).Error
	})
	return on, err
}

// SubmitRating creates or replaces the user's rating of post. created
// reports whether this was the user's first rating of it.
func (s *Service) SubmitRating(ctx context.Context, user *models.User, post *models.Post, in RatingInput) (created bool, err error) {
	if err := requirePublished(post); err != nil {
		return false, err
	}
	if err := in.Validate(); err != nil {
		return false, common.FromValidation(err)
	}

	rating := models.Rating{
		UserID: user.ID,
		PostID: post.ID,
		Score:  *in.Score,
		Review: strings.TrimSpace(in.Review),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Rating{}).Where("user_id = ? AND post_id = ?", user.ID, post.ID).Count(&count).Error; err != nil {
			return err
		}
		created = count == 0
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "review", "updated_at"}),
		}).Create(&rating).Error
	})
	if err != nil {
		return false, fmt.Errorf("submit rating: %w", err)
	}

	analytics.RecordRating()
	return created, nil
}

// AverageRating is the mean score of post, or 0 when it has no ratings.
func (s *Service) AverageRating(ctx context.Context, postID int) (float64, error) {
	var avg float64
	err := s.db.WithContext(ctx).
		Model(&models.Rating{}).
		Select("COALESCE(AVG(score), 0)").
		Where("post_id = ?", postID).
		Scan(&avg).Error
	return avg, err
}

func (s *Service) RatingCount(ctx context.Context, postID int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Rating{}).Where("post_id = ?", postID).Count(&count).Error
	return count, err
}

// Ratings lists a post's ratings with their authors, newest first.
func (s *Service) Ratings(ctx context.Context, postID int) ([]models.Rating, error) {
	var ratings []models.Rating
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&ratings).Error
	return ratings, err
}

func (s *Service) IsFavorited(ctx context.Context, userID, postID int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Favorite{}).Where("user_id = ? AND post_id = ?", userID, postID).Count(&count).Error
	return count > 0, err
}

// UserRating returns the user's rating of post, or nil.
func (s *Service) UserRating(ctx context.Context, userID, postID int) (*models.Rating, error) {
	var rating models.Rating
	err := s.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, postID).First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rating, nil
}

// Favorites lists the user's favorite posts, most recently added first.
func (s *Service) Favorites(ctx context.Context, userID, page int) ([]models.Favorite, common.Page, error) {
	var favorites []models.Favorite
	query := s.db.WithContext(ctx).Model(&models.Favorite{}).Where("user_id = ?", userID)
	p, err := common.PaginatePreload(query, page, FavoritesPageSize, &favorites,
		[]string{"Post", "Post.Author", "Post.Category"}, "created_at DESC", "id DESC")
	return favorites, p, err
}
