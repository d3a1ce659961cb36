// Package config loads the server's tunables via viper, following the
// pattern shared by OscillatingBlock-GOssip/config/config.go and
// nostrocket-engine/engine/actors/config.go: a typed struct populated
// by viper.Unmarshal after reading a named config file, with sane
// defaults set before the file is read so partial configs still work.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every recognized runtime option: hosting/relay/search
// limits and timeouts, listener ports, worker tuning, and the ambient
// settings a real deployment needs (TLS material paths, DB DSN, blob
// directory).
type Config struct {
	MaxHostedIdentities                 int           `mapstructure:"max_hosted_identities"`
	MaxIdentityRelations                int           `mapstructure:"max_identity_relations"`
	MaxFollowerServersCount             int           `mapstructure:"max_follower_servers_count"`
	NeighborhoodInitializationParallelism int         `mapstructure:"neighborhood_initialization_parallelism"`
	KeepAliveIntervalSeconds             int           `mapstructure:"keep_alive_interval_seconds"`

	PrimaryPort           uint16 `mapstructure:"primary_port"`
	ServerNeighborPort    uint16 `mapstructure:"server_neighbor_port"`
	ClientNonCustomerPort uint16 `mapstructure:"client_non_customer_port"`
	ClientCustomerPort    uint16 `mapstructure:"client_customer_port"`
	ClientAppServicePort  uint16 `mapstructure:"client_app_service_port"`

	RelayPairingTimeoutSeconds int `mapstructure:"relay_pairing_timeout_seconds"`
	RelayCallTimeoutSeconds    int `mapstructure:"relay_call_timeout_seconds"`

	SearchWallClockBudgetMillis   int `mapstructure:"search_wall_clock_budget_millis"`
	SearchRegexTotalBudgetMillis  int `mapstructure:"search_regex_total_budget_millis"`
	SearchRegexPerRecordBudgetMillis int `mapstructure:"search_regex_per_record_budget_millis"`

	HostingRedirectRetention time.Duration `mapstructure:"hosting_redirect_retention"`
	HostingPlanAllowlist     []string      `mapstructure:"hosting_plan_allowlist"`

	NeighborhoodInitTimeout time.Duration `mapstructure:"neighborhood_init_timeout"`

	// MaxConnsPerIP caps concurrent connections from one source address
	// across every listening endpoint; MaxAppServiceStreamsPerIP caps
	// concurrent ClientAppService connections from one address, standing
	// in for a per-connection stream cap in a transport with no
	// multiplexed streams. Either <= 0 disables its check.
	MaxConnsPerIP             int `mapstructure:"max_conns_per_ip"`
	MaxAppServiceStreamsPerIP int `mapstructure:"max_app_service_streams_per_ip"`

	WorkerPollInterval    time.Duration `mapstructure:"worker_poll_interval"`
	WorkerBatchLimit      int           `mapstructure:"worker_batch_limit"`
	WorkerRetryBaseDelay  time.Duration `mapstructure:"worker_retry_base_delay"`
	WorkerRetryMaxDelay   time.Duration `mapstructure:"worker_retry_max_delay"`
	WorkerDialTimeout     time.Duration `mapstructure:"worker_dial_timeout"`

	// NeighborTLSInsecureSkipVerify skips certificate verification on
	// the worker's outbound pushes to a follower's neighbor port. A
	// real CA-pinning story for inter-server trust is not implemented.
	NeighborTLSInsecureSkipVerify bool `mapstructure:"neighbor_tls_insecure_skip_verify"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	DatabaseDSN string `mapstructure:"database_dsn"`
	BlobDir     string `mapstructure:"blob_dir"`
	HomeDir     string `mapstructure:"home_dir"`

	ServerID string `mapstructure:"server_id"`
}

// Defaults returns the documented out-of-the-box tunables: 60s
// keepalive, 60s relay pairing, 30s callee response, 15s/1000ms/25ms
// search budgets, and a 14-day hosting redirect retention window.
func Defaults() Config {
	return Config{
		MaxHostedIdentities:                    100000,
		MaxIdentityRelations:                   64,
		MaxFollowerServersCount:                64,
		NeighborhoodInitializationParallelism:  4,
		KeepAliveIntervalSeconds:               60,
		PrimaryPort:                            16987,
		ServerNeighborPort:                     16988,
		ClientNonCustomerPort:                  16989,
		ClientCustomerPort:                     16990,
		ClientAppServicePort:                   16991,
		RelayPairingTimeoutSeconds:             60,
		RelayCallTimeoutSeconds:                30,
		SearchWallClockBudgetMillis:            15000,
		SearchRegexTotalBudgetMillis:           1000,
		SearchRegexPerRecordBudgetMillis:       25,
		HostingRedirectRetention:               14 * 24 * time.Hour,
		NeighborhoodInitTimeout:                20 * time.Minute,
		MaxConnsPerIP:                          256,
		MaxAppServiceStreamsPerIP:              32,
		WorkerPollInterval:                     2 * time.Second,
		WorkerBatchLimit:                       50,
		WorkerRetryBaseDelay:                   time.Second,
		WorkerRetryMaxDelay:                    5 * time.Minute,
		WorkerDialTimeout:                      10 * time.Second,
		NeighborTLSInsecureSkipVerify:          true,
		BlobDir:                                "blobs",
		HomeDir:                                ".profileserver",
	}
}

// Load reads filename (without extension) from the "config" directory
// and the current directory, applying defaults for anything the file
// omits.
func Load(filename string) (*Config, error) {
	v := viper.New()
	cfg := Defaults()
	setDefaults(v, cfg)

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("PROFILESERVER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "config: read config file")
		}
	}

	out := Defaults()
	if err := v.Unmarshal(&out); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return &out, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("max_hosted_identities", cfg.MaxHostedIdentities)
	v.SetDefault("max_identity_relations", cfg.MaxIdentityRelations)
	v.SetDefault("max_follower_servers_count", cfg.MaxFollowerServersCount)
	v.SetDefault("neighborhood_initialization_parallelism", cfg.NeighborhoodInitializationParallelism)
	v.SetDefault("keep_alive_interval_seconds", cfg.KeepAliveIntervalSeconds)
	v.SetDefault("primary_port", cfg.PrimaryPort)
	v.SetDefault("server_neighbor_port", cfg.ServerNeighborPort)
	v.SetDefault("client_non_customer_port", cfg.ClientNonCustomerPort)
	v.SetDefault("client_customer_port", cfg.ClientCustomerPort)
	v.SetDefault("client_app_service_port", cfg.ClientAppServicePort)
	v.SetDefault("relay_pairing_timeout_seconds", cfg.RelayPairingTimeoutSeconds)
	v.SetDefault("relay_call_timeout_seconds", cfg.RelayCallTimeoutSeconds)
	v.SetDefault("search_wall_clock_budget_millis", cfg.SearchWallClockBudgetMillis)
	v.SetDefault("search_regex_total_budget_millis", cfg.SearchRegexTotalBudgetMillis)
	v.SetDefault("search_regex_per_record_budget_millis", cfg.SearchRegexPerRecordBudgetMillis)
	v.SetDefault("hosting_redirect_retention", cfg.HostingRedirectRetention)
	v.SetDefault("neighborhood_init_timeout", cfg.NeighborhoodInitTimeout)
	v.SetDefault("max_conns_per_ip", cfg.MaxConnsPerIP)
	v.SetDefault("max_app_service_streams_per_ip", cfg.MaxAppServiceStreamsPerIP)
	v.SetDefault("worker_poll_interval", cfg.WorkerPollInterval)
	v.SetDefault("worker_batch_limit", cfg.WorkerBatchLimit)
	v.SetDefault("worker_retry_base_delay", cfg.WorkerRetryBaseDelay)
	v.SetDefault("worker_retry_max_delay", cfg.WorkerRetryMaxDelay)
	v.SetDefault("worker_dial_timeout", cfg.WorkerDialTimeout)
	v.SetDefault("neighbor_tls_insecure_skip_verify", cfg.NeighborTLSInsecureSkipVerify)
	v.SetDefault("blob_dir", cfg.BlobDir)
	v.SetDefault("home_dir", cfg.HomeDir)
}
