package blog

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quill/models"
)

// PostInput carries the author-editable post fields.
type PostInput struct {
	Title         string            `form:"title" json:"title"`
	Body          string            `form:"body" json:"body"`
	Excerpt       string            `form:"excerpt" json:"excerpt"`
	CategoryID    *int              `form:"category" json:"category_id"`
	Status        models.PostStatus `form:"status" json:"status"`
	FeaturedImage string            `form:"-" json:"-"`
}

func (p *PostInput) normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.Excerpt = strings.TrimSpace(p.Excerpt)
	if p.Status == "" {
		p.Status = models.StatusDraft
	}
	if p.CategoryID != nil && *p.CategoryID <= 0 {
		p.CategoryID = nil
	}
}

func (p PostInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required.Error("Title is required."), validation.RuneLength(1, 200)),
		validation.Field(&p.Body, validation.Required.Error("Body is required.")),
		validation.Field(&p.Excerpt, validation.RuneLength(0, 300).Error("Ensure the excerpt has at most 300 characters.")),
		validation.Field(&p.Status, validation.In(models.StatusDraft, models.StatusPublished).Error("Select a valid status.")),
	)
}

type CategoryInput struct {
	Name        string `form:"name" json:"name"`
	Slug        string `form:"slug" json:"slug"`
	Description string `form:"description" json:"description"`
}

func (c *CategoryInput) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Slug = generateSlug(c.Slug)
	if c.Slug == "" {
		c.Slug = generateSlug(c.Name)
	}
}

func (c CategoryInput) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required.Error("Name is required."), validation.RuneLength(1, 100)),
		validation.Field(&c.Slug,
			validation.Required.Error("Name must contain at least one letter or digit."),
			validation.RuneLength(1, 100),
		),
	)
}
