package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
)

const DefaultRole = "investor"

// ParseAccountConfig converts the instruction chaincode init document into
// the per-organization account map the resolver is built from. The document
// is the same one the chaincode is instantiated with:
//
//	{"Args":["init","[{\"organization\":\"a.nsd.ru\",\"deponent\":\"...\",\"balances\":[...]}]"]}
//
// Organization names are stripped to their first label ("a.nsd.ru" -> "a")
// and every organization is stamped with the given role.
func ParseAccountConfig(doc string, role string) (map[string]resolver.OrgAccounts, error) {
	if role == "" {
		role = DefaultRole
	}

	var init struct {
		Args []string `json:"Args"`
	}
	if err := sonic.UnmarshalString(doc, &init); err != nil {
		return nil, fmt.Errorf("can't decode init document: %w", err)
	}
	if len(init.Args) < 2 {
		return nil, fmt.Errorf("init document carries no account data")
	}

	var orgs []struct {
		Organization string `json:"organization"`
		Deponent     string `json:"deponent"`
		Balances     []struct {
			Account  string `json:"account"`
			Division string `json:"division"`
		} `json:"balances"`
	}
	if err := sonic.UnmarshalString(init.Args[1], &orgs); err != nil {
		return nil, fmt.Errorf("can't decode account data: %w", err)
	}

	out := make(map[string]resolver.OrgAccounts, len(orgs))
	for _, o := range orgs {
		name, _, _ := strings.Cut(o.Organization, ".")
		if name == "" {
			return nil, fmt.Errorf("empty organization name in account data")
		}

		accounts := make(map[string][]string)
		for _, b := range o.Balances {
			accounts[b.Account] = append(accounts[b.Account], b.Division)
		}

		out[name] = resolver.OrgAccounts{
			Deponent: o.Deponent,
			Role:     role,
			Accounts: accounts,
		}
	}
	return out, nil
}

// LoadAccountConfig reads the init document from the INSTRUCTION_INIT
// environment variable, falling back to the configured file.
func LoadAccountConfig(cfg Config, role string) (map[string]resolver.OrgAccounts, error) {
	doc := os.Getenv("INSTRUCTION_INIT")
	if doc == "" {
		if cfg.AccountInitFile == "" {
			return nil, fmt.Errorf("neither INSTRUCTION_INIT nor account_init_file is set")
		}
		data, err := os.ReadFile(cfg.AccountInitFile)
		if err != nil {
			return nil, fmt.Errorf("can't read account init file: %w", err)
		}
		doc = string(data)
	}
	return ParseAccountConfig(doc, role)
}
