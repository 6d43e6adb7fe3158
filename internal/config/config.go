package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dispatcher  DispatcherConfig   `yaml:"dispatcher"`
	LandingZone *LandingZoneConfig `yaml:"landing_zone"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Rules       RuleSettings       `yaml:"rules"`
	Install     InstallConfig      `yaml:"install"`
}

type DispatcherConfig struct {
	// AccountID is the account the dispatcher itself runs in. Required in
	// standalone mode, where only local resources are actionable.
	AccountID string `yaml:"account_id"`
	Region    string `yaml:"region"`

	// ConformancePack names the deployed conformance pack; it is passed to
	// handlers and seeds the default stack-naming pattern.
	ConformancePack string `yaml:"conformance_pack"`

	// FunctionPattern expands a rule's implementation name into the handler
	// Lambda function name.
	FunctionPattern string `yaml:"function_pattern"`

	// RetryBackoff is the sleep applied between rounds when a single
	// retryable invocation remains in flight.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// LandingZoneConfig describes the multi-account deployment mode. When absent
// from the config file the dispatcher runs standalone.
type LandingZoneConfig struct {
	Flavors []LandingZoneFlavor `yaml:"flavors"`
}

// LandingZoneFlavor is one candidate landing-zone variant. The flavor whose
// probe role exists in the management account is the one actually deployed.
type LandingZoneFlavor struct {
	Name            string `yaml:"name"`
	ProbeRole       string `yaml:"probe_role"`
	RemediationRole string `yaml:"remediation_role"`
}

type MetricsConfig struct {
	Namespace  string   `yaml:"namespace"`
	Dimensions []string `yaml:"dimensions"`
}

type InstallConfig struct {
	QueueName       string `yaml:"queue_name"`
	EventRuleName   string `yaml:"event_rule_name"`
	DispatcherRole  string `yaml:"dispatcher_role"`
	HandlerRole     string `yaml:"handler_role"`
	CodeBucket      string `yaml:"code_bucket"`
	CodeKeyPrefix   string `yaml:"code_key_prefix"`
	FunctionTimeout int32  `yaml:"function_timeout"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dispatcher.FunctionPattern == "" {
		c.Dispatcher.FunctionPattern = "remediator-%s"
	}
	if c.Dispatcher.RetryBackoff == 0 {
		c.Dispatcher.RetryBackoff = 2 * time.Second
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "Remediator"
	}
	if len(c.Metrics.Dimensions) == 0 {
		c.Metrics.Dimensions = []string{"account", "region", "resourceType", "conformancePack"}
	}

	if c.Install.QueueName == "" {
		c.Install.QueueName = "remediator-dispatch"
	}
	if c.Install.EventRuleName == "" {
		c.Install.EventRuleName = "remediator-compliance-change"
	}
	if c.Install.DispatcherRole == "" {
		c.Install.DispatcherRole = "remediator-dispatcher"
	}
	if c.Install.HandlerRole == "" {
		c.Install.HandlerRole = "remediator-handler"
	}
	if c.Install.FunctionTimeout == 0 {
		c.Install.FunctionTimeout = 900
	}
}

func (c *Config) validate() error {
	if c.LandingZone == nil && c.Dispatcher.AccountID == "" {
		return fmt.Errorf("dispatcher.account_id is required in standalone mode")
	}
	if c.LandingZone != nil && len(c.LandingZone.Flavors) == 0 {
		return fmt.Errorf("landing_zone.flavors must not be empty")
	}
	return nil
}
