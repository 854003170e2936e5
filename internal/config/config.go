package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nsd-depository/settlement-orchestrator/internal/reconcile"
)

type ChaincodesConfig struct {
	Book        string `yaml:"book"`
	Instruction string `yaml:"instruction"`
	Position    string `yaml:"position"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	// Org is the local organization id; settlement orchestration is active
	// only when it equals DepositoryOwner.
	Org  string `yaml:"org"`
	User string `yaml:"user"`

	DepositoryOwner   string `yaml:"depository_owner"`
	DepositoryChannel string `yaml:"depository_channel"`

	ConnectionProfile string           `yaml:"connection_profile"`
	Chaincodes        ChaincodesConfig `yaml:"chaincodes"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	InvokesPerSecond  int           `yaml:"invokes_per_second"`

	// Peers maps organization id to its endorsing peer endpoints.
	Peers map[string][]string `yaml:"peers"`

	// AccountInitFile points at the instruction chaincode init document;
	// the INSTRUCTION_INIT environment variable takes precedence.
	AccountInitFile string `yaml:"account_init_file"`

	Audit AuditConfig `yaml:"audit"`
}

func (c *Config) ValidateAndSetup() error {
	c.Org = cmp.Or(os.Getenv("ORG"), c.Org)
	if c.Org == "" {
		return fmt.Errorf("org is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.ConnectionProfile == "" {
		return fmt.Errorf("connection profile is required")
	}

	c.DepositoryOwner = cmp.Or(c.DepositoryOwner, "nsd")
	c.DepositoryChannel = cmp.Or(c.DepositoryChannel, "depository")
	c.Chaincodes.Book = cmp.Or(c.Chaincodes.Book, "book")
	c.Chaincodes.Instruction = cmp.Or(c.Chaincodes.Instruction, "instruction")
	c.Chaincodes.Position = cmp.Or(c.Chaincodes.Position, "position")

	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = reconcile.DefaultInterval
	}
	if c.InvokesPerSecond <= 0 {
		c.InvokesPerSecond = 10
	}

	if len(c.Peers[c.DepositoryOwner]) == 0 {
		return fmt.Errorf("no peers configured for depository owner %q", c.DepositoryOwner)
	}
	return nil
}

// IsDepository reports whether this process should run the orchestrator at
// all. Common members get an explicit no-op service, never an early return
// hidden in an init path.
func (c *Config) IsDepository() bool {
	return c.Org == c.DepositoryOwner
}

func (c *Config) DepositoryPeers() []string {
	return c.Peers[c.DepositoryOwner]
}

func Load(filename string) (Config, error) {
	var cfg Config
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("can't read config file: %w", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("can't unmarshal config: %w", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("can't setup config: %w", err)
	}

	return cfg, nil
}
