package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"gorm.io/gorm"

	"fundraiser/models"
)

// Models is the canonical schema.
var Models = []interface{}{
	&models.Project{},
	&models.Donation{},
	&models.Admin{},
	&models.CallbackLog{},
}

// BackupDatabase dumps the database with mysqldump when it is on PATH.
// Extra flags come from DB_BACKUP_FLAGS.
func BackupDatabase(ctx context.Context, outPath string) error {
	if _, err := exec.LookPath("mysqldump"); err != nil {
		return fmt.Errorf("mysqldump not found in PATH: %w", err)
	}
	args := []string{}
	if flags := os.Getenv("DB_BACKUP_FLAGS"); flags != "" {
		args = append(args, flags)
	}
	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	outFile, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer outFile.Close()
	cmd.Stdout = outFile
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysqldump failed: %w", err)
	}
	return nil
}

// Migrate runs AutoMigrate for the canonical schema inside a transaction.
// When DB_BACKUP_PATH is set a best-effort backup is started first.
func Migrate(db *gorm.DB, log *slog.Logger) error {
	if backupPath := os.Getenv("DB_BACKUP_PATH"); backupPath != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := BackupDatabase(ctx, backupPath); err != nil {
				log.Warn("database backup failed", slog.Any("error", err))
			}
		}()
		// allow a small window for the backup to start
		time.Sleep(500 * time.Millisecond)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models...)
	})
}
