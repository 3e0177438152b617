package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/analytics"
	"quill/common"
	"quill/database"
	"quill/email"
	"quill/models"
)

const usersPageSize = 20

// Service owns user accounts: registration, verification, login checks,
// roles and account removal.
type Service struct {
	db     *gorm.DB
	mailer email.Mailer
	domain string
}

func NewService(db *gorm.DB, mailer email.Mailer, domain string) *Service {
	return &Service{db: db, mailer: mailer, domain: strings.TrimRight(domain, "/")}
}

// Register creates an inactive account and mails its verification link. The
// mail is sent before the transaction commits, so a delivery failure leaves
// no account behind.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	passwordHash, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Email:                  in.Email,
		Username:               in.Username,
		FirstName:              in.FirstName,
		LastName:               in.LastName,
		PasswordHash:           passwordHash,
		Role:                   in.Role,
		EmailVerificationToken: uuid.NewString(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUnique(tx, in.Email, in.Username, 0); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			if common.IsDuplicateKey(err) {
				return common.NewValidationError("A user with that email or username already exists.")
			}
			return fmt.Errorf("create user: %w", err)
		}

		subject, body := email.VerificationMessage(s.domain, user.EmailVerificationToken)
		if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	analytics.RecordRegistration()
	log.Info().Int("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered")
	return &user, nil
}

func (s *Service) ensureUnique(tx *gorm.DB, emailAddr, username string, exceptID int) error {
	var count int64
	if emailAddr != "" {
		if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", emailAddr, exceptID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return common.NewValidationError("A user with that email already exists.")
		}
	}
	if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return common.NewValidationError("A user with that username already exists.")
	}
	return nil
}

// Verify activates the account owning token. Verifying twice is a no-op
// reported through alreadyVerified.
func (s *Service) Verify(ctx context.Context, token string) (alreadyVerified bool, err error) {
	if token == "" {
		return false, common.NewNotFound("Invalid verification token.")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email_verification_token = ?", token).First(&user).Error; err != nil {
		return false, common.NotFoundOr(err, "Invalid verification token.")
	}
	if user.IsEmailVerified {
		return true, nil
	}

	err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"is_email_verified": true,
		"is_active":         true,
	}).Error
	if err != nil {
		return false, fmt.Errorf("verify user: %w", err)
	}
	return false, nil
}

// Authenticate checks credentials. The right password on an account that
// has not been verified yet yields EmailNotVerified.
func (s *Service) Authenticate(ctx context.Context, in LoginInput) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, common.FromValidation(err)
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(in.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewInvalidCredentials()
		}
		return nil, err
	}

	if !checkPasswordHash(in.Password, user.PasswordHash) {
		return nil, common.NewInvalidCredentials()
	}
	if !user.IsEmailVerified || !user.IsActive {
		return nil, common.NewEmailNotVerified()
	}
	return &user, nil
}

// ChangeRole applies a demotion, or any change made by an admin, right away.
// An escalation is filed as a pending RoleRequest for a moderator and
// applied is false.
func (s *Service) ChangeRole(ctx context.Context, user *models.User, role models.Role) (applied bool, err error) {
	if !role.IsValid() {
		return false, common.NewValidationError("Invalid role selected.")
	}

	if user.CanModerate() || role.Rank() <= user.Role.Rank() {
		if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
			return false, fmt.Errorf("change role: %w", err)
		}
		user.Role = role
		return true, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending models.RoleRequest
		err := tx.Where("user_id = ? AND status = ?", user.ID, models.RoleRequestPending).First(&pending).Error
		switch {
		case err == nil:
			return tx.Model(&pending).Update("role", role).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.RoleRequest{UserID: user.ID, Role: role, Status: models.RoleRequestPending}).Error
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("file role request: %w", err)
	}
	return false, nil
}

// PendingRoleRequest returns the user's open escalation request, if any.
func (s *Service) PendingRoleRequest(ctx context.Context, userID int) (*models.RoleRequest, error) {
	var req models.RoleRequest
	err := s.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, models.RoleRequestPending).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Service) PendingRoleRequests(ctx context.Context, moderator *models.User) ([]models.RoleRequest, error) {
	if !moderator.CanModerate() {
		return nil, common.NewPermissionDenied("You do not have permission to review role requests.")
	}
	var reqs []models.RoleRequest
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("status = ?", models.RoleRequestPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, err
}

func (s *Service) ApproveRoleRequest(ctx context.Context, moderator *models.User, requestID int) (*models.RoleRequest, error) {
	return s.reviewRoleRequest(ctx, moderator, requestID, models.RoleRequestApproved)
}

func (s *Service) RejectRoleRequest(ctx context.Context, moderator *models.User, requestID int) (*models.RoleRequest, error) {
	return s.reviewRoleRequest(ctx, moderator, requestID, models.RoleRequestRejected)
}

func (s *Service) reviewRoleRequest(ctx context.Context, moderator *models.User, requestID int, status models.RoleRequestStatus) (*models.RoleRequest, error) {
	if !moderator.CanModerate() {
		return nil, common.NewPermissionDenied("You do not have permission to review role requests.")
	}

	var req models.RoleRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND status = ?", requestID, models.RoleRequestPending).First(&req).Error
		if err != nil {
			return common.NotFoundOr(err, "Role request not found.")
		}
		if status == models.RoleRequestApproved {
			if err := tx.Model(&models.User{}).Where("id = ?", req.UserID).Update("role", req.Role).Error; err != nil {
				return err
			}
		}
		return tx.Model(&req).Updates(map[string]interface{}{
			"status":         status,
			"reviewed_by_id": moderator.ID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SetRole lets a moderator assign any role to another user.
func (s *Service) SetRole(ctx context.Context, moderator *models.User, userID int, role models.Role) error {
	if !moderator.CanModerate() {
		return common.NewPermissionDenied("You do not have permission to change roles.")
	}
	if !role.IsValid() {
		return common.NewValidationError("Invalid role selected.")
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.NewNotFound("User not found.")
	}
	return nil
}

func (s *Service) UpdateAccount(ctx context.Context, user *models.User, in AccountInput) error {
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := in.Validate(); err != nil {
		return common.FromValidation(err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUnique(tx, "", in.Username, user.ID); err != nil {
			return err
		}
		return tx.Model(user).Updates(map[string]interface{}{
			"username":   in.Username,
			"first_name": in.FirstName,
			"last_name":  in.LastName,
		}).Error
	})
	if common.IsDuplicateKey(err) {
		return common.NewValidationError("A user with that username already exists.")
	}
	if err != nil {
		return err
	}
	user.Username, user.FirstName, user.LastName = in.Username, in.FirstName, in.LastName
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, user *models.User, in PasswordInput) error {
	if !checkPasswordHash(in.Current, user.PasswordHash) {
		return common.NewValidationError("Your old password was entered incorrectly. Please enter it again.")
	}
	err := validation.Validate(in.New, passwordRules(user.Username, user.Email, user.FirstName, user.LastName)...)
	if err != nil {
		return common.FromValidation(err)
	}

	passwordHash, err := hashPassword(in.New)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", passwordHash).Error; err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	return nil
}

// DeleteUser removes target and everything it owns. Users may delete
// themselves; moderators may delete anyone.
func (s *Service) DeleteUser(ctx context.Context, actor *models.User, targetID int) error {
	if actor.ID != targetID && !actor.CanModerate() {
		return common.NewPermissionDenied("You do not have permission to delete this account.")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.First(&target, targetID).Error; err != nil {
			return common.NotFoundOr(err, "User not found.")
		}
		return database.DeleteUser(tx, target.ID)
	})
	if err != nil {
		return err
	}

	log.Info().Int("user_id", targetID).Int("actor_id", actor.ID).Msg("user deleted")
	return nil
}

func (s *Service) GetUser(ctx context.Context, id int) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, common.NotFoundOr(err, "User not found.")
	}
	return &user, nil
}

// ListUsers is the moderator's user directory, newest first.
func (s *Service) ListUsers(ctx context.Context, moderator *models.User, search string, page int) ([]models.User, common.Page, error) {
	if !moderator.CanModerate() {
		return nil, common.Page{}, common.NewPermissionDenied("You do not have permission to list users.")
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if like := common.ContainsPattern(s.db, search); like != "" {
		query = query.Where("LOWER(email) LIKE ?"+common.LikeEscape+" OR LOWER(username) LIKE ?"+common.LikeEscape, like, like)
	}

	var users []models.User
	p, err := common.Paginate(query, page, usersPageSize, &users, "created_at DESC", "id DESC")
	return users, p, err
}

// ActivateUser verifies and activates an account by hand, for users whose
// verification mail never arrived.
func (s *Service) ActivateUser(ctx context.Context, moderator *models.User, userID int) error {
	if !moderator.CanModerate() {
		return common.NewPermissionDenied("You do not have permission to activate users.")
	}
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"is_email_verified": true, "is_active": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.NewNotFound("User not found.")
	}
	return nil
}
