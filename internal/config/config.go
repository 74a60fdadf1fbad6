package config

import "time"

// Environment names recognized in Runtime.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the root configuration for Pavilion.
type Config struct {
	Runtime RuntimeConfig `json:"runtime"`
	Gateway GatewayConfig `json:"gateway"`
	Plugins PluginsConfig `json:"plugins"`
	RBAC    RBACConfig    `json:"rbac"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Mailer  MailerConfig  `json:"mailer"`
	Git     GitConfig     `json:"git"`
	Secrets SecretsConfig `json:"secrets"`
}

// RuntimeConfig identifies the runtime environment.
type RuntimeConfig struct {
	Environment string `json:"environment"` // "development" or "production"
}

// IsProduction reports whether the host runs with production gating active.
func (c *Config) IsProduction() bool {
	return c.Runtime.Environment == EnvProduction
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AuthToken string `json:"auth_token,omitempty"` // shared bearer token; empty disables the check
}

// PluginsConfig configures plugin discovery and capability policy.
type PluginsConfig struct {
	// Dir is the plugins directory scanned at boot (default: $PAVILION_PATH/plugins).
	Dir string `json:"dir"`

	// GrantAllCapabilities grants every registered capability to every plugin.
	// Only honored outside production; always logged loudly.
	GrantAllCapabilities bool `json:"grant_all_capabilities"`

	// CoreDataAllowlist lists plugin namespaces/ids allowed to receive the
	// unrestricted datastore client when also core-flagged.
	CoreDataAllowlist []string `json:"core_data_allowlist"`

	// CapabilityOverrides maps a capability's enable-flag name to true to
	// re-enable it in production. Every use is logged as an audited override.
	CapabilityOverrides map[string]bool `json:"capability_overrides"`

	// ReconcileCron, when set, schedules a periodic reseed of the runtime
	// state from the persisted registry (standard 5-field cron expression).
	ReconcileCron string `json:"reconcile_cron,omitempty"`
}

// RBACConfig configures role definitions.
type RBACConfig struct {
	RolesFile string `json:"roles_file"` // YAML role definitions (default: $PAVILION_PATH/roles.yaml)
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DBPath string `json:"db_path"` // default: $PAVILION_PATH/pavilion.db
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// MailerConfig configures the SMTP client handed out by the mailer capability.
type MailerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// GitConfig configures the git operations capability.
type GitConfig struct {
	WorkDir string   `json:"work_dir"`
	Timeout Duration `json:"timeout,omitempty"`
}

// SecretsConfig configures the age-encrypted secret bag.
type SecretsConfig struct {
	KeyPath string `json:"key_path"` // default: $PAVILION_PATH/.age-key
	File    string `json:"file"`     // default: $PAVILION_PATH/secrets.jsonc
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
