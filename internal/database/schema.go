package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order on startup.  Usernames use a binary collation
// so that logins are case-sensitive.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          ENUM('admin','staff','user') NOT NULL DEFAULT 'user',
		created_at    DATETIME(6) NOT NULL,
		UNIQUE KEY ux_users_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS devices (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		mac          VARCHAR(17) NOT NULL,
		hostname     VARCHAR(255) NOT NULL DEFAULT '',
		key_code     VARCHAR(64) NOT NULL,
		active       TINYINT(1) NOT NULL DEFAULT 0,
		activated_at DATETIME(6) NULL,
		expires_at   DATETIME(6) NULL,
		added_by     VARCHAR(64) NOT NULL,
		created_at   DATETIME(6) NOT NULL,
		UNIQUE KEY ux_devices_mac (mac)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		mac          VARCHAR(17) NOT NULL,
		hostname     VARCHAR(255) NOT NULL DEFAULT '',
		action       VARCHAR(255) NOT NULL,
		performed_by VARCHAR(64) NOT NULL,
		` + "`timestamp`" + `  DATETIME(6) NOT NULL,
		KEY ix_activity_logs_ts (` + "`timestamp`" + `, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i+1, err)
		}
	}
	return nil
}
