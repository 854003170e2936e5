package audit

import (
	"cmp"
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
)

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	DBName   string
	SSLMode  string
}

func NewDBConfigFromEnv() *DBConfig {
	return &DBConfig{
		Host:     os.Getenv("AUDIT_POSTGRES_HOST"),
		Port:     os.Getenv("AUDIT_POSTGRES_PORT"),
		Username: os.Getenv("AUDIT_POSTGRES_USERNAME"),
		Password: os.Getenv("AUDIT_POSTGRES_PASSWORD"),
		DBName:   os.Getenv("AUDIT_POSTGRES_DB_NAME"),
		SSLMode:  os.Getenv("AUDIT_POSTGRES_SSL_MODE"),
	}
}

func (c *DBConfig) Setup() *DBConfig {
	c.Host = cmp.Or(c.Host, "localhost")
	c.Port = cmp.Or(c.Port, "5432")
	c.Username = cmp.Or(c.Username, "postgres")
	c.Password = cmp.Or(c.Password, "postgres")
	c.DBName = cmp.Or(c.DBName, "postgres")
	c.SSLMode = cmp.Or(c.SSLMode, "disable")
	return c
}

func (c *DBConfig) String() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.DBName, c.Password, c.SSLMode,
	)
}

const _schema = `
CREATE TABLE IF NOT EXISTS settlement_transitions (
	id          BIGSERIAL PRIMARY KEY,
	instruction TEXT NOT NULL,
	channel     TEXT NOT NULL,
	operation   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	tx_id       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS settlement_transitions_instruction_idx
	ON settlement_transitions (instruction);

CREATE TABLE IF NOT EXISTS reconciliation_sweeps (
	id          TEXT PRIMARY KEY,
	channels    INT NOT NULL,
	pending     INT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);`

const (
	_insertTransition = `INSERT INTO settlement_transitions (
								instruction, channel, operation, status, tx_id, error
							) VALUES ($1,$2,$3,$4,$5,$6)`
	_insertSweep = `INSERT INTO reconciliation_sweeps (
								id, channels, pending, started_at, duration_ms
							) VALUES ($1,$2,$3,$4,$5)
							ON CONFLICT (id) DO NOTHING`
)

// Store records into postgres. Insert failures are logged, never returned:
// auditing must not be able to break settlement.
type Store struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewStore(cfg *DBConfig, log logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.String())
	if err != nil {
		return nil, fmt.Errorf("can't connect to audit db: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, _schema); err != nil {
		return fmt.Errorf("can't init audit schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Transition(ctx context.Context, t Transition) {
	if _, err := s.db.ExecContext(ctx, _insertTransition,
		t.Instruction, t.Channel, t.Operation, t.Status, t.TxID, t.Error,
	); err != nil {
		s.log.Errorf("can't record transition for %s: %s", t.Instruction, err)
	}
}

func (s *Store) Sweep(ctx context.Context, sw Sweep) {
	if _, err := s.db.ExecContext(ctx, _insertSweep,
		sw.ID, sw.Channels, sw.Pending, sw.Started, sw.Duration.Milliseconds(),
	); err != nil {
		s.log.Errorf("can't record sweep %s: %s", sw.ID, err)
	}
}
