package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nsd-depository/settlement-orchestrator/internal/model"
)

// ErrOrgNotFound is returned when no organization owns a given deponent
// code or account/division pair.
var ErrOrgNotFound = errors.New("organization not found")

// OrgAccounts is the static per-organization slice of the account
// configuration: its deponent code, role, and account/division pairs.
type OrgAccounts struct {
	Deponent string              `yaml:"deponent" json:"deponent"`
	Role     string              `yaml:"role" json:"role"`
	Accounts map[string][]string `yaml:"accounts" json:"accounts"`
}

// Resolver maps deponent codes and account/division pairs to organizations
// and derives channel names. It is built once from static configuration and
// is read-only afterwards, so all methods are safe for concurrent use.
type Resolver struct {
	owner string
	orgs  map[string]OrgAccounts
	peers map[string][]string

	byDeponent map[string]string
	byAccount  map[string]string
}

// New builds the lookup indexes. Organizations are visited in sorted order,
// so on duplicate configuration the lexicographically last org wins, which
// keeps the last-write-wins behavior of a linear scan deterministic.
func New(owner string, orgs map[string]OrgAccounts, peers map[string][]string) *Resolver {
	r := &Resolver{
		owner:      owner,
		orgs:       orgs,
		peers:      peers,
		byDeponent: make(map[string]string, len(orgs)),
		byAccount:  make(map[string]string),
	}
	for _, org := range sortedKeys(orgs) {
		cfg := orgs[org]
		if cfg.Deponent != "" {
			r.byDeponent[cfg.Deponent] = org
		}
		for account, divisions := range cfg.Accounts {
			for _, division := range divisions {
				r.byAccount[accountKey(account, division)] = org
			}
		}
	}
	return r
}

func (r *Resolver) Owner() string {
	return r.owner
}

// OrgByDeponent returns the organization owning a deponent code.
func (r *Resolver) OrgByDeponent(deponent string) (string, error) {
	org, ok := r.byDeponent[deponent]
	if !ok {
		return "", fmt.Errorf("%w: deponent %q", ErrOrgNotFound, deponent)
	}
	return org, nil
}

// OrgByAccount returns the organization owning an account/division pair.
func (r *Resolver) OrgByAccount(account, division string) (string, error) {
	org, ok := r.byAccount[accountKey(account, division)]
	if !ok {
		return "", fmt.Errorf("%w: account %s/%s", ErrOrgNotFound, account, division)
	}
	return org, nil
}

// DeponentByAccount returns the deponent code of the organization owning an
// account/division pair.
func (r *Resolver) DeponentByAccount(account, division string) (string, error) {
	org, err := r.OrgByAccount(account, division)
	if err != nil {
		return "", err
	}
	return r.orgs[org].Deponent, nil
}

// Channel returns the canonical bilateral channel name for two
// organizations: the ids sorted ascending, joined with "-".
func (r *Resolver) Channel(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// PositionChannel returns the channel carrying an organization's position
// view of the book.
func (r *Resolver) PositionChannel(org string) string {
	return r.owner + "-" + org
}

// InstructionOrgs resolves the two organizations party to an instruction,
// preferring its deponent codes and falling back to account lookup.
func (r *Resolver) InstructionOrgs(in model.Instruction) (string, string, error) {
	from, err := r.instructionOrg(in.DeponentFrom, in.Transferer)
	if err != nil {
		return "", "", fmt.Errorf("transferer side: %w", err)
	}
	to, err := r.instructionOrg(in.DeponentTo, in.Receiver)
	if err != nil {
		return "", "", fmt.Errorf("receiver side: %w", err)
	}
	return from, to, nil
}

func (r *Resolver) instructionOrg(deponent string, balance model.Balance) (string, error) {
	if deponent != "" {
		return r.OrgByDeponent(deponent)
	}
	return r.OrgByAccount(balance.Account, balance.Division)
}

// InstructionChannel derives the bilateral channel an instruction lives on.
// The name is never stored; it is always recomputed from the parties.
func (r *Resolver) InstructionChannel(in model.Instruction) (string, error) {
	from, to, err := r.InstructionOrgs(in)
	if err != nil {
		return "", err
	}
	return r.Channel(from, to), nil
}

// InstructionPeers returns the endorsing peer set for an instruction's
// bilateral channel: the peers of both party organizations.
func (r *Resolver) InstructionPeers(in model.Instruction) ([]string, error) {
	from, to, err := r.InstructionOrgs(in)
	if err != nil {
		return nil, err
	}
	return r.PeersOf(from, to), nil
}

// PeersOf returns the configured peers of the given organizations, in
// organization argument order, without duplicates. Organizations with no
// peer configuration contribute nothing.
func (r *Resolver) PeersOf(orgs ...string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, org := range orgs {
		for _, p := range r.peers[org] {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// IsBilateral reports whether a channel name denotes a bilateral trading
// channel: it contains a separator and is not one of the depository owner's
// own channels (the position channels "<owner>-<org>").
func (r *Resolver) IsBilateral(channel string) bool {
	return strings.Contains(channel, "-") && !strings.HasPrefix(channel, r.owner+"-")
}

// MemberOrgs returns every configured organization except the depository
// owner, sorted.
func (r *Resolver) MemberOrgs() []string {
	var out []string
	for org := range r.orgs {
		if org != r.owner {
			out = append(out, org)
		}
	}
	sort.Strings(out)
	return out
}

// BilateralChannels enumerates the canonical channels of every member
// organization pair.
func (r *Resolver) BilateralChannels() []string {
	members := r.MemberOrgs()
	var out []string
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			out = append(out, r.Channel(members[i], members[j]))
		}
	}
	return out
}

func accountKey(account, division string) string {
	return account + "/" + division
}

func sortedKeys(m map[string]OrgAccounts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
