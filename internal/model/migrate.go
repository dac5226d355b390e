package model

import "gorm.io/gorm"

// AutoMigrate runs GORM auto-migration and installs the usage bounds check.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SerialCode{}); err != nil {
		return err
	}

	// Storage-level backstop for 0 <= usage_count <= max_uses. Postgres and
	// SQLite both accept this form; ignore failure on engines that already
	// have the constraint (ADD CONSTRAINT IF NOT EXISTS is not portable).
	db.Exec(
		"ALTER TABLE serial_codes ADD CONSTRAINT chk_serial_codes_usage " +
			"CHECK (usage_count >= 0 AND usage_count <= max_uses)",
	)
	return nil
}
