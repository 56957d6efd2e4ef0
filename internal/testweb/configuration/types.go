package configuration

import (
	_ "embed"
	"time"

	commonconfig "github.com/testweb/testweb/internal/common/config"
	"github.com/testweb/testweb/internal/testweb/domain"
)

// DefaultConfig holds the built-in defaults that user supplied files are merged over.
//
//go:embed config.yaml
var DefaultConfig []byte

type StorageBackend string

const (
	MemoryBackend StorageBackend = "memory"
	FileBackend   StorageBackend = "file"
	SqliteBackend StorageBackend = "sqlite"
	RedisBackend  StorageBackend = "redis"
)

type BackendConfig struct {
	// Base URL of the Test-Web API, e.g. http://localhost:3001/api
	BaseUrl   string `validate:"required,url"`
	AuthToken string
	// Timeout for individual backend requests. Zero means no timeout, in which case
	// a start request that never resolves leaves its test pending.
	RequestTimeout time.Duration `validate:"gte=0"`
	// Cancellation endpoints tried in order; {id} is replaced by the remote test id.
	CancelPaths    []string `validate:"min=1,dive,required"`
	CancelAttempts uint     `validate:"gte=1"`
	CancelDelay    time.Duration
	// Per-type overrides of the start endpoint path.
	Endpoints map[domain.TestType]string
}

type PollerConfig struct {
	Interval    time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gte=1"`
}

type SimulatorConfig struct {
	StepDuration time.Duration `validate:"gte=0"`
	// Replay phase labels while waiting for the first status poll.
	BeforePoll bool
}

type PushConfig struct {
	Enabled bool
	// Base websocket URL; the remote test id is appended as the last path segment.
	URL              string `validate:"required_if=Enabled true"`
	HandshakeTimeout time.Duration
}

type PersistenceConfig struct {
	Backend       StorageBackend `validate:"oneof=memory file sqlite redis"`
	Key           string         `validate:"required"`
	FlushInterval time.Duration  `validate:"gte=0"`
	// Directory holding one JSON file per key for the file backend.
	FilePath string
	// Path of the sqlite database file, including the db name.
	SqlitePath string
	Redis      commonconfig.RedisConfig
}

type RetentionConfig struct {
	// Maximum number of completed tests kept; zero disables the limit.
	MaxCompleted int `validate:"gte=0"`
	// Completed tests older than this are pruned; zero disables pruning by age.
	MaxAge time.Duration `validate:"gte=0"`
	// Cron spec for the retention pass, e.g. "@every 1h".
	CleanupSchedule string
}

type TestWebConfiguration struct {
	HttpPort       uint16
	MetricsEnabled bool

	Backend     BackendConfig
	Poller      PollerConfig
	Simulator   SimulatorConfig
	Push        PushConfig
	Persistence PersistenceConfig
	Retention   RetentionConfig
}
