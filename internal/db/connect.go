package db

import (
	"fmt"
	"os"
	"path/filepath"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the embedded chat database under dataDir. WAL mode keeps
// concurrent readers from blocking the single writer.
func Open(dataDir string) (*gorm.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("db: create data dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "chat.db")
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	return gdb, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open in-memory: %w", err)
	}
	return gdb, nil
}

// MySQLDSN builds a DSN for a direct connection to the telematics user
// database.
func MySQLDSN(host string, port int, user, password, database string) string {
	cfg := mysqldrv.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ConnectMySQL opens a GORM connection to the telematics user database,
// used by directory mode "mysql".
func ConnectMySQL(host string, port int, user, password, database string) (*gorm.DB, error) {
	dsn := MySQLDSN(host, port, user, password, database)
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return gdb, nil
}
