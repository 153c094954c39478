package store_test

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fundraiser/models"
	"fundraiser/store"
)

func newGormStore(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.sqlite") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Project{}, &models.Donation{}, &models.Admin{}, &models.CallbackLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.NewGormStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) store.DonationStore { return newGormStore(t) })
}
