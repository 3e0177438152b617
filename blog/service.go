package blog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/common"
	"quill/database"
	"quill/models"
)

const (
	SearchPageSize    = 6
	DashboardPageSize = 10
	FeaturedCount     = 3
	RelatedCount      = 3
)

const (
	SortLatest  = "latest"
	SortPopular = "popular"
	SortRating  = "rating"
)

var postPreloads = []string{"Author", "Category"}

// Service is the content catalog: posts and categories.
type Service struct {
	db       *gorm.DB
	renderer *Renderer
}

func NewService(db *gorm.DB, renderer *Renderer) *Service {
	if renderer == nil {
		renderer = NewRenderer(nil, 0)
	}
	return &Service{db: db, renderer: renderer}
}

func (s *Service) Render(ctx context.Context, post *models.Post) string {
	return s.renderer.Render(ctx, post)
}

// CanEdit reports whether user may change or delete post.
func CanEdit(user *models.User, post *models.Post) bool {
	return user != nil && (post.AuthorID == user.ID || user.CanModerate())
}

func (s *Service) CreatePost(ctx context.Context, author *models.User, in PostInput) (*models.Post, error) {
	if author == nil || !author.CanCreateBlog() {
		return nil, common.NewPermissionDenied("You do not have permission to create blogs.")
	}
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	slug := generateSlug(in.Title)
	if slug == "" {
		return nil, common.NewValidationError("Title must contain at least one letter or digit.")
	}

	post := models.Post{
		Title:         in.Title,
		Slug:          slug,
		AuthorID:      author.ID,
		Body:          in.Body,
		Excerpt:       in.Excerpt,
		CategoryID:    in.CategoryID,
		Status:        in.Status,
		FeaturedImage: in.FeaturedImage,
	}
	if post.Excerpt == "" {
		post.Excerpt = deriveExcerpt(post.Body)
	}
	if post.IsPublished() {
		now := time.Now()
		post.PublishedAt = &now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkCategory(tx, in.CategoryID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.Post{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return common.NewValidationError("A blog with this title already exists.")
		}
		if err := tx.Create(&post).Error; err != nil {
			if common.IsDuplicateKey(err) {
				return common.NewValidationError("A blog with this title already exists.")
			}
			return fmt.Errorf("create post: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("post_id", post.ID).Int("author_id", author.ID).Str("status", string(post.Status)).Msg("post created")
	return &post, nil
}

func checkCategory(tx *gorm.DB, categoryID *int) error {
	if categoryID == nil {
		return nil
	}
	var count int64
	if err := tx.Model(&models.Category{}).Where("id = ?", *categoryID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return common.NewValidationError("Select a valid category.")
	}
	return nil
}

// UpdatePost edits post in place. The slug never changes; published_at is
// only set on the first publish.
func (s *Service) UpdatePost(ctx context.Context, editor *models.User, post *models.Post, in PostInput) error {
	if !CanEdit(editor, post) {
		return common.NewPermissionDenied("You do not have permission to edit this blog.")
	}
	in.normalize()
	if err := in.Validate(); err != nil {
		return common.FromValidation(err)
	}

	excerpt := in.Excerpt
	if excerpt == "" {
		excerpt = deriveExcerpt(in.Body)
	}
	featured := post.FeaturedImage
	if in.FeaturedImage != "" {
		featured = in.FeaturedImage
	}

	updates := map[string]interface{}{
		"title":          in.Title,
		"body":           in.Body,
		"excerpt":        excerpt,
		"category_id":    in.CategoryID,
		"status":         in.Status,
		"featured_image": featured,
	}
	var publishedAt *time.Time
	if in.Status == models.StatusPublished && post.PublishedAt == nil {
		now := time.Now()
		publishedAt = &now
		updates["published_at"] = publishedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkCategory(tx, in.CategoryID); err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	post.Title = in.Title
	post.Body = in.Body
	post.Excerpt = excerpt
	post.CategoryID = in.CategoryID
	post.Status = in.Status
	post.FeaturedImage = featured
	if publishedAt != nil {
		post.PublishedAt = publishedAt
	}
	s.renderer.Invalidate(ctx, post.ID)
	return nil
}

// DeletePost removes post with its favorites and ratings.
func (s *Service) DeletePost(ctx context.Context, editor *models.User, post *models.Post) error {
	if !CanEdit(editor, post) {
		return common.NewPermissionDenied("You do not have permission to delete this blog.")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return database.DeletePosts(tx, []int{post.ID})
	})
	if err != nil {
		return err
	}

	s.renderer.Invalidate(ctx, post.ID)
	log.Info().Int("post_id", post.ID).Int("actor_id", editor.ID).Msg("post deleted")
	return nil
}

// GetPostBySlug returns the post whatever its status.
func (s *Service) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").Where("slug = ?", slug).First(&post).Error
	if err != nil {
		return nil, common.NotFoundOr(err, "Blog not found.")
	}
	return &post, nil
}

func (s *Service) GetPublishedPost(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("Category").
		Where("slug = ? AND status = ?", slug, models.StatusPublished).
		First(&post).Error
	if err != nil {
		return nil, common.NotFoundOr(err, "Blog not found.")
	}
	return &post, nil
}

// SearchFilters are combined with AND. Zero values are ignored.
type SearchFilters struct {
	Text       string
	CategoryID int
	AuthorID   int
	DateFrom   *time.Time
	DateTo     *time.Time
}

const avgRatingExpr = "(SELECT AVG(ratings.score) FROM ratings WHERE ratings.post_id = posts.id)"

func sortOrder(sort string) []string {
	switch sort {
	case SortPopular:
		return []string{"posts.views_count DESC", "posts.published_at DESC", "posts.id DESC"}
	case SortRating:
		return []string{"COALESCE(" + avgRatingExpr + ", -1) DESC", "posts.published_at DESC", "posts.id DESC"}
	default:
		return []string{"posts.published_at DESC", "posts.id DESC"}
	}
}

// Search lists published posts matching every supplied filter. Unknown sort
// keys fall back to latest.
func (s *Service) Search(ctx context.Context, f SearchFilters, sort string, page int) ([]models.Post, common.Page, error) {
	query := s.published(ctx)

	if like := common.ContainsPattern(s.db, f.Text); like != "" {
		query = query.Where(
			"LOWER(posts.title) LIKE ?"+common.LikeEscape+" OR LOWER(posts.body) LIKE ?"+common.LikeEscape+
				" OR LOWER(posts.excerpt) LIKE ?"+common.LikeEscape,
			like, like, like,
		)
	}
	if f.CategoryID > 0 {
		query = query.Where("posts.category_id = ?", f.CategoryID)
	}
	if f.AuthorID > 0 {
		query = query.Where("posts.author_id = ?", f.AuthorID)
	}
	if f.DateFrom != nil {
		query = query.Where("posts.published_at >= ?", startOfDay(*f.DateFrom))
	}
	if f.DateTo != nil {
		query = query.Where("posts.published_at < ?", startOfDay(*f.DateTo).AddDate(0, 0, 1))
	}

	var posts []models.Post
	p, err := common.PaginatePreload(query, page, SearchPageSize, &posts, postPreloads, sortOrder(sort)...)
	return posts, p, err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *Service) published(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Post{}).Where("posts.status = ?", models.StatusPublished)
}

// Featured returns up to n published posts by mean rating, unrated counting
// as zero, then by views.
func (s *Service) Featured(ctx context.Context, n int) ([]models.Post, error) {
	if n <= 0 {
		n = FeaturedCount
	}
	var posts []models.Post
	err := s.published(ctx).
		Preload("Author").
		Preload("Category").
		Order("COALESCE(" + avgRatingExpr + ", 0) DESC").
		Order("posts.views_count DESC").
		Limit(n).
		Find(&posts).Error
	return posts, err
}

// RelatedPosts returns other published posts in the same category.
func (s *Service) RelatedPosts(ctx context.Context, post *models.Post, n int) ([]models.Post, error) {
	if post.CategoryID == nil {
		return []models.Post{}, nil
	}
	var posts []models.Post
	err := s.published(ctx).
		Preload("Author").
		Where("posts.category_id = ? AND posts.id <> ?", *post.CategoryID, post.ID).
		Order("posts.published_at DESC").
		Limit(n).
		Find(&posts).Error
	return posts, err
}

// PostsByAuthor lists an author's posts. The public listing only shows
// published posts; the author's own dashboard shows every status, newest
// first.
func (s *Service) PostsByAuthor(ctx context.Context, authorID int, publishedOnly bool, page int) ([]models.Post, common.Page, error) {
	var posts []models.Post
	if publishedOnly {
		query := s.published(ctx).Where("posts.author_id = ?", authorID)
		p, err := common.PaginatePreload(query, page, SearchPageSize, &posts, postPreloads, sortOrder(SortLatest)...)
		return posts, p, err
	}

	query := s.db.WithContext(ctx).Model(&models.Post{}).Where("posts.author_id = ?", authorID)
	p, err := common.PaginatePreload(query, page, DashboardPageSize, &posts, []string{"Category"}, "posts.created_at DESC", "posts.id DESC")
	return posts, p, err
}

func (s *Service) PostsInCategory(ctx context.Context, categoryID, page int) ([]models.Post, common.Page, error) {
	var posts []models.Post
	query := s.published(ctx).Where("posts.category_id = ?", categoryID)
	p, err := common.PaginatePreload(query, page, SearchPageSize, &posts, postPreloads, sortOrder(SortLatest)...)
	return posts, p, err
}

// AverageRatings returns the mean score per post id. Posts without ratings
// are absent from the map.
func (s *Service) AverageRatings(ctx context.Context, postIDs []int) (map[int]float64, error) {
	out := make(map[int]float64, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		PostID int
		Avg    float64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Rating{}).
		Select("post_id, AVG(score) AS avg").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PostID] = r.Avg
	}
	return out, nil
}

// SitemapEntry is one published post in the sitemap.
type SitemapEntry struct {
	Slug      string
	UpdatedAt time.Time
}

func (s *Service) SitemapEntries(ctx context.Context) ([]SitemapEntry, error) {
	var entries []SitemapEntry
	err := s.published(ctx).
		Select("slug, updated_at").
		Order("published_at DESC").
		Scan(&entries).Error
	return entries, err
}

func (s *Service) CreateCategory(ctx context.Context, moderator *models.User, in CategoryInput) (*models.Category, error) {
	if moderator == nil || !moderator.CanModerate() {
		return nil, common.NewPermissionDenied("You do not have permission to manage categories.")
	}
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	category := models.Category{Name: in.Name, Slug: in.Slug, Description: in.Description}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		if common.IsDuplicateKey(err) {
			return nil, common.NewValidationError("Category with this name or slug already exists.")
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, moderator *models.User, id int, in CategoryInput) (*models.Category, error) {
	if moderator == nil || !moderator.CanModerate() {
		return nil, common.NewPermissionDenied("You do not have permission to manage categories.")
	}
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	var category models.Category
	if err := s.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, common.NotFoundOr(err, "Category not found.")
	}
	err := s.db.WithContext(ctx).Model(&category).Updates(map[string]interface{}{
		"name":        in.Name,
		"slug":        in.Slug,
		"description": in.Description,
	}).Error
	if err != nil {
		if common.IsDuplicateKey(err) {
			return nil, common.NewValidationError("Category with this name or slug already exists.")
		}
		return nil, err
	}
	category.Name, category.Slug, category.Description = in.Name, in.Slug, in.Description
	return &category, nil
}

// DeleteCategory removes the category and detaches its posts.
func (s *Service) DeleteCategory(ctx context.Context, moderator *models.User, id int) error {
	if moderator == nil || !moderator.CanModerate() {
		return common.NewPermissionDenied("You do not have permission to manage categories.")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Category{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.NewNotFound("Category not found.")
		}
		return tx.Model(&models.Post{}).Where("category_id = ?", id).Update("category_id", nil).Error
	})
}

// CategoryCount is a category with its number of published posts.
type CategoryCount struct {
	models.Category
	PostCount int64 `json:"post_count"`
}

func (s *Service) ListCategories(ctx context.Context) ([]CategoryCount, error) {
	var out []CategoryCount
	err := s.db.WithContext(ctx).
		Model(&models.Category{}).
		Select("categories.*, (SELECT COUNT(*) FROM posts WHERE posts.category_id = categories.id AND posts.status = ?) AS post_count", models.StatusPublished).
		Order("categories.name ASC").
		Scan(&out).Error
	return out, err
}

func (s *Service) CategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&category).Error; err != nil {
		return nil, common.NotFoundOr(err, "Category not found.")
	}
	return &category, nil
}

// ClearRenderCache drops the cached render of every post.
func (s *Service) ClearRenderCache(ctx context.Context, moderator *models.User) (int, error) {
	if moderator == nil || !moderator.CanModerate() {
		return 0, common.NewPermissionDenied("You do not have permission to clear the cache.")
	}
	var ids []int
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	s.renderer.Invalidate(ctx, ids...)
	return len(ids), nil
}
