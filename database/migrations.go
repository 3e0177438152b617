package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quill/models"
)

// Tables lists every model in dependency order.
func Tables() []interface{} {
	return []interface{}{
		&models.User{},
		&models.RoleRequest{},
		&models.Category{},
		&models.Post{},
		&models.Favorite{},
		&models.Rating{},
		&models.AuthorProfile{},
		&models.Follow{},
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Info().Msg("Running database migrations...")

	if err := db.AutoMigrate(Tables()...); err != nil {
		log.Error().Err(err).Msg("Error running migrations")
		return err
	}

	log.Info().Msg("Migrations completed successfully")
	return nil
}
