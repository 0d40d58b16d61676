package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LedgerConfig holds all tunables of the ledger process.
type LedgerConfig struct {
	ServiceName string
	HTTPPort    string

	SlotCapacity int

	LockLease         time.Duration
	LockWaitTimeout   time.Duration
	LockRetryInterval time.Duration

	MaxCommitAttempts int
	CriticalTimeout   time.Duration
	InitialGrant      int64
	InviteReward      int64

	EventsRedisList string

	KafkaBrokers      []string
	KafkaEventsTopic  string
	KafkaInboundTopic string
	KafkaDLQTopic     string
	KafkaGroupID      string

	JWTSecret string

	LogLevel       string
	LogDevelopment bool
}

var envBindings = map[string]string{
	"service.name":               "SERVICE_NAME",
	"http.port":                  "PORT",
	"idgen.slot_capacity":        "IDGEN_SLOT_CAPACITY",
	"lock.lease":                 "LOCK_LEASE",
	"lock.wait_timeout":          "LOCK_WAIT_TIMEOUT",
	"lock.retry_interval":        "LOCK_RETRY_INTERVAL",
	"ledger.max_commit_attempts": "LEDGER_MAX_COMMIT_ATTEMPTS",
	"ledger.critical_timeout":    "LEDGER_CRITICAL_TIMEOUT",
	"ledger.initial_grant":       "LEDGER_INITIAL_GRANT",
	"ledger.invite_reward":       "LEDGER_INVITE_REWARD",
	"events.redis_list":          "EVENTS_REDIS_LIST",
	"kafka.brokers":              "KAFKA_BROKERS",
	"kafka.events_topic":         "KAFKA_EVENTS_TOPIC",
	"kafka.inbound_topic":        "KAFKA_INBOUND_TOPIC",
	"kafka.dlq_topic":            "KAFKA_DLQ_TOPIC",
	"kafka.group_id":             "KAFKA_GROUP_ID",
	"jwt.secret_key":             "JWT_SECRET_KEY",
	"log.level":                  "LOG_LEVEL",
	"log.development":            "LOG_DEVELOPMENT",
}

func setDefaults() {
	viper.SetDefault("service.name", "coin-ledger")
	viper.SetDefault("http.port", "8080")
	viper.SetDefault("idgen.slot_capacity", 1024)
	viper.SetDefault("lock.lease", 10*time.Second)
	viper.SetDefault("lock.wait_timeout", 3*time.Second)
	viper.SetDefault("lock.retry_interval", 50*time.Millisecond)
	viper.SetDefault("ledger.max_commit_attempts", 3)
	viper.SetDefault("ledger.critical_timeout", 5*time.Second)
	viper.SetDefault("ledger.initial_grant", 0)
	viper.SetDefault("ledger.invite_reward", 50)
	viper.SetDefault("events.redis_list", "ledger:events")
	viper.SetDefault("kafka.brokers", "")
	viper.SetDefault("kafka.events_topic", "ledger.events")
	viper.SetDefault("kafka.inbound_topic", "business.events")
	viper.SetDefault("kafka.dlq_topic", "business.events.dlq")
	viper.SetDefault("kafka.group_id", "coin-ledger")
	viper.SetDefault("jwt.secret_key", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
}

// BindEnv registers the environment names of every ledger key.
func BindEnv() {
	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}
}

// Load reads the ledger configuration from viper and validates it.
func Load() (*LedgerConfig, error) {
	setDefaults()

	cfg := &LedgerConfig{
		ServiceName:       viper.GetString("service.name"),
		HTTPPort:          viper.GetString("http.port"),
		SlotCapacity:      viper.GetInt("idgen.slot_capacity"),
		LockLease:         viper.GetDuration("lock.lease"),
		LockWaitTimeout:   viper.GetDuration("lock.wait_timeout"),
		LockRetryInterval: viper.GetDuration("lock.retry_interval"),
		MaxCommitAttempts: viper.GetInt("ledger.max_commit_attempts"),
		CriticalTimeout:   viper.GetDuration("ledger.critical_timeout"),
		InitialGrant:      viper.GetInt64("ledger.initial_grant"),
		InviteReward:      viper.GetInt64("ledger.invite_reward"),
		EventsRedisList:   viper.GetString("events.redis_list"),
		KafkaBrokers:      splitList(viper.GetString("kafka.brokers")),
		KafkaEventsTopic:  viper.GetString("kafka.events_topic"),
		KafkaInboundTopic: viper.GetString("kafka.inbound_topic"),
		KafkaDLQTopic:     viper.GetString("kafka.dlq_topic"),
		KafkaGroupID:      viper.GetString("kafka.group_id"),
		JWTSecret:         viper.GetString("jwt.secret_key"),
		LogLevel:          viper.GetString("log.level"),
		LogDevelopment:    viper.GetBool("log.development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const minLockLease = time.Second

// Validate checks the invariants the ledger relies on.
func (c *LedgerConfig) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if c.SlotCapacity <= 0 || c.SlotCapacity > 1024 || c.SlotCapacity&(c.SlotCapacity-1) != 0 {
		errs = append(errs, fmt.Errorf("idgen.slot_capacity must be a power of two up to 1024, got %d", c.SlotCapacity))
	}
	if c.LockLease < minLockLease {
		errs = append(errs, fmt.Errorf("lock.lease must be at least %s, got %s", minLockLease, c.LockLease))
	}
	if c.LockWaitTimeout <= 0 {
		errs = append(errs, errors.New("lock.wait_timeout must be positive"))
	}
	if c.LockRetryInterval <= 0 {
		errs = append(errs, errors.New("lock.retry_interval must be positive"))
	}
	if c.MaxCommitAttempts <= 0 {
		errs = append(errs, errors.New("ledger.max_commit_attempts must be positive"))
	}
	if c.CriticalTimeout <= 0 {
		errs = append(errs, errors.New("ledger.critical_timeout must be positive"))
	}
	if c.InitialGrant < 0 {
		errs = append(errs, errors.New("ledger.initial_grant must not be negative"))
	}
	if c.InviteReward < 0 {
		errs = append(errs, errors.New("ledger.invite_reward must not be negative"))
	}

	return errors.Join(errs...)
}

// KafkaEnabled reports whether any broker is configured.
func (c *LedgerConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
