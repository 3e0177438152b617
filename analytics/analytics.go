package analytics

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/models"
)

// Recorder counts post views and reports view statistics for authors.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordView increments the post's view counter. Concurrent views may race
// with each other; failures are logged and never reach the reader.
func (r *Recorder) RecordView(ctx context.Context, postID int) {
	if r == nil || r.db == nil {
		return
	}

	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		UpdateColumn("views_count", gorm.Expr("views_count + ?", 1)).Error
	if err != nil {
		log.Warn().Err(err).Int("post_id", postID).Msg("failed to record post view")
		return
	}
	postViews.Inc()
}

// PostViews is one row of an author's view chart.
type PostViews struct {
	PostID     int     `json:"post_id"`
	Title      string  `json:"title"`
	Slug       string  `json:"slug"`
	Views      int64   `json:"views"`
	Percentage float64 `json:"percentage"`
}

// TopPosts returns the author's most viewed posts, each with its share of the
// top entry's views for charting.
func (r *Recorder) TopPosts(ctx context.Context, authorID, limit int) ([]PostViews, error) {
	var rows []PostViews
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("id AS post_id, title, slug, views_count AS views").
		Where("author_id = ?", authorID).
		Order("views_count DESC").
		Order("id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	maxViews := int64(1)
	for _, row := range rows {
		if row.Views > maxViews {
			maxViews = row.Views
		}
	}
	for i := range rows {
		rows[i].Percentage = float64(rows[i].Views) / float64(maxViews) * 100
	}
	return rows, nil
}

// TotalViews sums views across the author's posts.
func (r *Recorder) TotalViews(ctx context.Context, authorID int) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("COALESCE(SUM(views_count), 0)").
		Where("author_id = ?", authorID).
		Scan(&total).Error
	return total, err
}
