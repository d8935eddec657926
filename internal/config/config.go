package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store  Store  `cfg:"store"`
	Server Server `cfg:"server"`
	Engine Engine `cfg:"engine"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`

	// StateManagerSecret is required in every request's x-api-key header.
	// Read from the bare STATE_MANAGER_SECRET env var (no prefix), matching
	// the original implementation's env var name exactly.
	StateManagerSecret string `cfg:"state_manager_secret,no_prefix" log:"-"`

	// SecretsEncryptionKey is a 44-character URL-safe base64 encoding of 32
	// raw bytes, used to encrypt graph template secrets at rest. Read from
	// the bare SECRETS_ENCRYPTION_KEY env var. An empty or malformed value
	// fails startup (see crypto.LoadKey).
	SecretsEncryptionKey string `cfg:"secrets_encryption_key,no_prefix" log:"-"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// Alan, if set, enables distributed clustering via UDP peer discovery,
	// used to elect a single leader for the reaper sweep across instances.
	Alan *alan.Config `cfg:"alan"`
}

// Engine configures the lease/reaper/retry control loop.
type Engine struct {
	// LeaseTimeout bounds how long a QUEUED state may go uncommitted before
	// the reaper recovers it as errored. Accepts human durations ("5m").
	LeaseTimeout string `cfg:"lease_timeout" default:"5m"`

	// ReaperInterval is how often the reaper sweeps for timed-out leases
	// and due retries.
	ReaperInterval string `cfg:"reaper_interval" default:"30s"`

	// GraphValidityTimeout bounds how long successor creation waits for a
	// graph template to become VALID before failing the originating state.
	GraphValidityTimeout string `cfg:"graph_validity_timeout" default:"5m"`

	// LeaseBatchSize is loaded from config but not read by the lease
	// handler, which claims one state when the request omits batch_size.
	LeaseBatchSize int `cfg:"lease_batch_size" default:"10"`
}

func (e Engine) ParsedLeaseTimeout() (time.Duration, error) {
	return str2duration.ParseDuration(e.LeaseTimeout)
}

func (e Engine) ParsedReaperInterval() (time.Duration, error) {
	return str2duration.ParseDuration(e.ReaperInterval)
}

func (e Engine) ParsedGraphValidityTimeout() (time.Duration, error) {
	return str2duration.ParseDuration(e.GraphValidityTimeout)
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("STATEMGR_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
