package models

import "gorm.io/gorm"

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&ChatRoom{},
		&ChatMessage{},
		&ReadReceipt{},
	)
}
