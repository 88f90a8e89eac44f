package db

import (
	"fmt"
	"net"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/junction/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from connection settings.
func DSN(c config.MySQLConfig) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Connect opens a GORM connection to a MySQL database.
func Connect(c config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(c)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", c.Host, c.Port, c.Database, err)
	}
	return db, nil
}

// OpenSQLite opens a GORM connection to a SQLite file. Use ":memory:" for
// an in-process database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Open connects to the SQL backend named in the directory config.
func Open(c config.DirectoryConfig) (*gorm.DB, error) {
	switch c.Backend {
	case config.BackendSQLite:
		return OpenSQLite(c.Path)
	case config.BackendMySQL:
		return Connect(c.MySQL)
	default:
		return nil, fmt.Errorf("db: backend %q is not a SQL backend", c.Backend)
	}
}
