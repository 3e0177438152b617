package database

import (
	"fmt"

	"gorm.io/gorm"

	"quill/models"
)

// DeletePosts removes the given posts and every favorite and rating attached
// to them. Callers run it inside a transaction.
func DeletePosts(tx *gorm.DB, postIDs []int) error {
	if len(postIDs) == 0 {
		return nil
	}
	if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Favorite{}).Error; err != nil {
		return fmt.Errorf("delete favorites: %w", err)
	}
	if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Rating{}).Error; err != nil {
		return fmt.Errorf("delete ratings: %w", err)
	}
	if err := tx.Where("id IN ?", postIDs).Delete(&models.Post{}).Error; err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	return nil
}

// DeleteUser removes a user together with everything the user owns.
func DeleteUser(tx *gorm.DB, userID int) error {
	var postIDs []int
	if err := tx.Model(&models.Post{}).Where("author_id = ?", userID).Pluck("id", &postIDs).Error; err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	if err := DeletePosts(tx, postIDs); err != nil {
		return err
	}

	owned := []struct {
		model interface{}
		query string
		args  []interface{}
	}{
		{&models.Favorite{}, "user_id = ?", []interface{}{userID}},
		{&models.Rating{}, "user_id = ?", []interface{}{userID}},
		{&models.Follow{}, "follower_id = ? OR following_id = ?", []interface{}{userID, userID}},
		{&models.AuthorProfile{}, "user_id = ?", []interface{}{userID}},
		{&models.RoleRequest{}, "user_id = ?", []interface{}{userID}},
	}
	for _, o := range owned {
		if err := tx.Where(o.query, o.args...).Delete(o.model).Error; err != nil {
			return fmt.Errorf("delete owned rows: %w", err)
		}
	}

	if err := tx.Delete(&models.User{}, userID).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
