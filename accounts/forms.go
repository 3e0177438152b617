package accounts

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"quill/models"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

var usernameRules = []validation.Rule{
	validation.Required.Error("Username is required."),
	validation.RuneLength(1, 150),
	validation.Match(usernamePattern).
		Error("Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."),
}

type RegisterInput struct {
	Email     string      `form:"email" json:"email"`
	Username  string      `form:"username" json:"username"`
	FirstName string      `form:"first_name" json:"first_name"`
	LastName  string      `form:"last_name" json:"last_name"`
	Password  string      `form:"password1" json:"password"`
	Password2 string      `form:"password2" json:"password2"`
	Role      models.Role `form:"role" json:"role"`
}

func (r *RegisterInput) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	if r.Role == "" {
		r.Role = models.RoleReader
	}
}

func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email,
			validation.Required.Error("Email is required."),
			is.EmailFormat.Error("Enter a valid email address."),
			validation.RuneLength(3, 254),
		),
		validation.Field(&r.Username, usernameRules...),
		validation.Field(&r.FirstName, validation.Required.Error("First name is required."), validation.RuneLength(1, 150)),
		validation.Field(&r.LastName, validation.Required.Error("Last name is required."), validation.RuneLength(1, 150)),
		validation.Field(&r.Password, passwordRules(r.Username, r.Email, r.FirstName, r.LastName)...),
		validation.Field(&r.Password2,
			validation.When(r.Password2 != "",
				validation.In(r.Password).Error("The two password fields didn't match."),
			),
		),
		validation.Field(&r.Role,
			validation.In(models.RoleReader, models.RoleAuthor).Error("Select a valid role."),
		),
	)
}

type LoginInput struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r LoginInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error("Email is required.")),
		validation.Field(&r.Password, validation.Required.Error("Password is required.")),
	)
}

// AccountInput holds the editable account fields.
type AccountInput struct {
	Username  string `form:"username" json:"username"`
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
}

func (r AccountInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, usernameRules...),
		validation.Field(&r.FirstName, validation.Required.Error("First name is required."), validation.RuneLength(1, 150)),
		validation.Field(&r.LastName, validation.Required.Error("Last name is required."), validation.RuneLength(1, 150)),
	)
}

type PasswordInput struct {
	Current string `form:"old_password" json:"old_password"`
	New     string `form:"new_password1" json:"new_password"`
}
