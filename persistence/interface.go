// persistence/interface.go
package persistence

import (
	"errors"
	"fmt"

	"github.com/wfunc/werewolfserver/models"
)

// Database 数据库接口
type Database interface {
	SaveGameRecord(record *models.GameRecord) error
	LoadGameRecord(gameID string) (*models.GameRecord, error)
	ListGameRecords(limit int) ([]*models.GameRecord, error)
	LoadAgentStats(name string) (*models.AgentStats, error)
	// UpdateAgentStats runs fn on the stored stats for name (zero value if
	// absent) and saves the result atomically.
	UpdateAgentStats(name string, fn func(stats *models.AgentStats) error) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownDriver  = errors.New("unknown database driver")
)

// Options selects and configures a backend.
type Options struct {
	// Driver is "memory", "gorm" or "pq".
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (o Options) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		o.Host, o.Port, o.User, o.Password, o.DBName)
}

// Open returns the backend named by opts.Driver.
func Open(opts Options) (Database, error) {
	switch opts.Driver {
	case "memory":
		return NewMemory(), nil
	case "gorm":
		return NewGormPostgreSQL(opts.DSN())
	case "pq":
		return NewPostgreSQL(opts.DSN())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
