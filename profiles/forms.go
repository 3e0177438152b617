package profiles

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const dateLayout = "2006-01-02"

var handlePattern = regexp.MustCompile(`^@?[A-Za-z0-9_.-]+$`)

func isLink(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// handleRules accepts either a bare handle or a full http(s) link.
func handleRules(max int) []validation.Rule {
	return []validation.Rule{
		validation.RuneLength(0, max),
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if s == "" {
				return nil
			}
			if isLink(s) {
				return is.URL.Error("Enter a valid URL.").Validate(s)
			}
			if !handlePattern.MatchString(s) {
				return validation.NewError("validation_handle_invalid", "Enter a username without spaces or a link.")
			}
			return nil
		}),
	}
}

// ProfileInput holds the editable author profile fields. Twitter, GitHub and
// Instagram take handles or links; the other links take full URLs.
type ProfileInput struct {
	Bio       string `form:"bio" json:"bio"`
	Website   string `form:"website" json:"website"`
	Twitter   string `form:"twitter" json:"twitter"`
	LinkedIn  string `form:"linkedin" json:"linkedin"`
	GitHub    string `form:"github" json:"github"`
	Facebook  string `form:"facebook" json:"facebook"`
	Instagram string `form:"instagram" json:"instagram"`
	Location  string `form:"location" json:"location"`
	BirthDate string `form:"birth_date" json:"birth_date"`
}

func (p *ProfileInput) normalize() {
	for _, f := range []*string{&p.Bio, &p.Website, &p.Twitter, &p.LinkedIn, &p.GitHub, &p.Facebook, &p.Instagram, &p.Location, &p.BirthDate} {
		*f = strings.TrimSpace(*f)
	}
	p.Twitter = strings.TrimPrefix(p.Twitter, "@")
	p.Instagram = strings.TrimPrefix(p.Instagram, "@")
}

func (p ProfileInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Bio, validation.RuneLength(0, 500).Error("Ensure the bio has at most 500 characters.")),
		validation.Field(&p.Website, is.URL.Error("Enter a valid URL.")),
		validation.Field(&p.LinkedIn, is.URL.Error("Enter a valid URL.")),
		validation.Field(&p.Facebook, is.URL.Error("Enter a valid URL.")),
		validation.Field(&p.Twitter, handleRules(100)...),
		validation.Field(&p.GitHub, handleRules(100)...),
		validation.Field(&p.Instagram, handleRules(100)...),
		validation.Field(&p.Location, validation.RuneLength(0, 100)),
		validation.Field(&p.BirthDate, validation.Date(dateLayout).Error("Enter a valid date.")),
	)
}

func (p ProfileInput) birthDate() *time.Time {
	if p.BirthDate == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, p.BirthDate)
	if err != nil {
		return nil
	}
	return &t
}
