package scylladb

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type ScyllaDB struct {
	Session  *gocql.Session
	Keyspace string
}

type Config struct {
	Hosts    []string
	Keyspace string
	Timeout  time.Duration
}

// Connect bootstraps the keyspace with a keyspace-less session, then opens
// the session used by the application.
func Connect(cfg Config, logger zerolog.Logger) (*ScyllaDB, error) {
	if err := createSchema(cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to create scylladb schema")
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylladb session: %w", err)
	}

	return &ScyllaDB{
		Session:  session,
		Keyspace: cfg.Keyspace,
	}, nil
}

func newCluster(cfg Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = gocql.Quorum
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	return cluster
}

func createSchema(cfg Config) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return err
	}
	defer session.Close()

	keyspaceQuery := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH REPLICATION = {
			'class': 'SimpleStrategy',
			'replication_factor': 1
		}
	`, cfg.Keyspace)
	if err := session.Query(keyspaceQuery).Exec(); err != nil {
		return err
	}

	resultsQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.results (
			request_id text PRIMARY KEY,
			status text,
			key_type text,
			key_bits int,
			public_key text,
			private_key text,
			fingerprint text,
			error text,
			ttl_seconds int,
			created_at bigint
		)
	`, cfg.Keyspace)
	return session.Query(resultsQuery).Exec()
}

func (s *ScyllaDB) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
}
