package directory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
)

// Stores is the opened directory for one process.
type Stores struct {
	Agents Directory
	// Tools is nil for backends without a tool namespace (http).
	Tools ToolDirectory
	// File is set for the file backend so callers can Watch it.
	File  *FileStore
	close func() error
}

// Close releases backend connections.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the directory backend named in cfg.
func Open(ctx context.Context, cfg config.DirectoryConfig, log zerolog.Logger) (*Stores, error) {
	st := &Stores{}
	switch cfg.Backend {
	case config.BackendFile:
		fs, err := NewFileStore(FileOpts{Path: cfg.Path, Logger: log})
		if err != nil {
			return nil, err
		}
		st.Agents, st.Tools, st.File = fs, fs, fs

	case config.BackendSQLite, config.BackendMySQL:
		gormDB, err := db.Open(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, err
		}
		ds, err := NewDBStore(gormDB)
		if err != nil {
			return nil, err
		}
		st.Agents, st.Tools = ds, ds
		st.close = func() error {
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}

	case config.BackendRedis:
		rs, err := NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st.Agents, st.Tools, st.close = rs, rs, rs.Close

	case config.BackendHTTP:
		hc, err := NewHTTPClient(cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		st.Agents = hc

	default:
		return nil, fmt.Errorf("directory: backend %q is not supported", cfg.Backend)
	}

	if cfg.CacheTTL > 0 && cfg.Backend != config.BackendFile {
		st.Agents = NewCached(st.Agents, 0, cfg.CacheTTL)
	}
	log.Debug().Str("backend", cfg.Backend).Msg("directory: opened")
	return st, nil
}
