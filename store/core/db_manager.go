package core

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ConnectionPool manages the lifetime of SQLite connections. Each file is
// opened at most once and the pool is safe for concurrent use.
type ConnectionPool struct {
	mu      sync.RWMutex
	connMap map[string]*sql.DB
	baseDir string
}

func NewConnectionPool(baseDir string) *ConnectionPool {
	return &ConnectionPool{
		connMap: make(map[string]*sql.DB),
		baseDir: baseDir,
	}
}

// Path resolves name against the pool's base directory.
func (p *ConnectionPool) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.baseDir, name)
}

// GetConnection returns the connection for path, opening (and creating)
// the database when needed. A cached connection that no longer answers
// a ping is replaced.
func (p *ConnectionPool) GetConnection(path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connMap[path]; ok {
		if err := conn.Ping(); err == nil {
			return conn, nil
		}
		_ = conn.Close()
		delete(p.connMap, path)
	}

	conn, err := p.openNewConnection(path)
	if err != nil {
		return nil, err
	}
	p.connMap[path] = conn
	return conn, nil
}

func (p *ConnectionPool) openNewConnection(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database dir for %s: %w", path, err)
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&cache=shared&_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}
	return db, nil
}

func (p *ConnectionPool) CloseConnection(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connMap[path]; ok {
		err := conn.Close()
		delete(p.connMap, path)
		return err
	}
	return nil
}

func (p *ConnectionPool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for path, conn := range p.connMap {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	p.connMap = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("closing connection pool: %v", errs)
	}
	return nil
}
