package db

import (
	"strings"
	"testing"
)

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN("10.0.0.5", 3306, "report", "s3cret", "telematics")
	for _, want := range []string{"report:s3cret@", "tcp(10.0.0.5:3306)", "/telematics", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}

func TestOpenMemoryAndMigrate(t *testing.T) {
	gdb, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"sessions", "messages", "phone_configs"} {
		if !gdb.Migrator().HasTable(table) {
			t.Errorf("table %q not created", table)
		}
	}
}

func TestOpenCreatesDataDir(t *testing.T) {
	dir := t.TempDir() + "/nested"
	gdb, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	defer sqlDB.Close()

	var mode string
	if err := gdb.Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
