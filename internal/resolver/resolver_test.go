package resolver

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nsd-depository/settlement-orchestrator/internal/model"
)

func testResolver() *Resolver {
	orgs := map[string]OrgAccounts{
		"megafon": {
			Deponent: "CA9861913023",
			Role:     "investor",
			Accounts: map[string][]string{
				"MZ130605006C": {"19000000000000000", "22000000000000000"},
			},
		},
		"raiffeisen": {
			Deponent: "DE000DB7HWY7",
			Role:     "investor",
			Accounts: map[string][]string{
				"MS980129006C": {"00000000000000000"},
			},
		},
	}
	peers := map[string][]string{
		"nsd":        {"peer0.nsd.nsd.ru:7051"},
		"megafon":    {"peer0.megafon.nsd.ru:7051"},
		"raiffeisen": {"peer0.raiffeisen.nsd.ru:7051"},
	}
	return New("nsd", orgs, peers)
}

func TestChannelDeterminism(t *testing.T) {
	r := testResolver()
	tests := []struct {
		a, b, want string
	}{
		{"megafon", "raiffeisen", "megafon-raiffeisen"},
		{"raiffeisen", "megafon", "megafon-raiffeisen"},
		{"a", "b", "a-b"},
		{"b", "a", "a-b"},
	}
	for _, tt := range tests {
		if got := r.Channel(tt.a, tt.b); got != tt.want {
			t.Errorf("Channel(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
		if r.Channel(tt.a, tt.b) != r.Channel(tt.b, tt.a) {
			t.Errorf("Channel(%q, %q) not symmetric", tt.a, tt.b)
		}
	}
}

func TestOrgLookups(t *testing.T) {
	r := testResolver()

	org, err := r.OrgByDeponent("CA9861913023")
	if err != nil || org != "megafon" {
		t.Errorf("OrgByDeponent = %q, %v", org, err)
	}
	if _, err := r.OrgByDeponent("UNKNOWN"); !errors.Is(err, ErrOrgNotFound) {
		t.Errorf("OrgByDeponent unknown: err = %v, want ErrOrgNotFound", err)
	}

	org, err = r.OrgByAccount("MS980129006C", "00000000000000000")
	if err != nil || org != "raiffeisen" {
		t.Errorf("OrgByAccount = %q, %v", org, err)
	}
	if _, err := r.OrgByAccount("MS980129006C", "99"); !errors.Is(err, ErrOrgNotFound) {
		t.Errorf("OrgByAccount wrong division: err = %v, want ErrOrgNotFound", err)
	}

	dep, err := r.DeponentByAccount("MZ130605006C", "22000000000000000")
	if err != nil || dep != "CA9861913023" {
		t.Errorf("DeponentByAccount = %q, %v", dep, err)
	}
}

func TestInstructionChannel(t *testing.T) {
	r := testResolver()

	byDeponents := model.Instruction{
		DeponentFrom: "CA9861913023",
		DeponentTo:   "DE000DB7HWY7",
	}
	ch, err := r.InstructionChannel(byDeponents)
	if err != nil || ch != "megafon-raiffeisen" {
		t.Errorf("InstructionChannel by deponents = %q, %v", ch, err)
	}

	byAccounts := model.Instruction{
		Transferer: model.Balance{Account: "MS980129006C", Division: "00000000000000000"},
		Receiver:   model.Balance{Account: "MZ130605006C", Division: "19000000000000000"},
	}
	ch, err = r.InstructionChannel(byAccounts)
	if err != nil || ch != "megafon-raiffeisen" {
		t.Errorf("InstructionChannel by accounts = %q, %v", ch, err)
	}

	unknown := model.Instruction{DeponentFrom: "NOPE", DeponentTo: "DE000DB7HWY7"}
	if _, err := r.InstructionChannel(unknown); !errors.Is(err, ErrOrgNotFound) {
		t.Errorf("InstructionChannel unknown deponent: err = %v, want ErrOrgNotFound", err)
	}
}

func TestLastWriteWinsOnDuplicateAccount(t *testing.T) {
	orgs := map[string]OrgAccounts{
		"alpha": {Deponent: "D1", Accounts: map[string][]string{"ACC": {"DIV"}}},
		"beta":  {Deponent: "D2", Accounts: map[string][]string{"ACC": {"DIV"}}},
	}
	r := New("nsd", orgs, nil)

	// orgs are indexed in sorted order, so the later one wins
	org, err := r.OrgByAccount("ACC", "DIV")
	if err != nil || org != "beta" {
		t.Errorf("duplicate account resolved to %q, want %q", org, "beta")
	}
}

func TestIsBilateral(t *testing.T) {
	r := testResolver()
	tests := []struct {
		channel string
		want    bool
	}{
		{"megafon-raiffeisen", true},
		{"a-b", true},
		{"depository", false},
		{"nsd-megafon", false},
	}
	for _, tt := range tests {
		if got := r.IsBilateral(tt.channel); got != tt.want {
			t.Errorf("IsBilateral(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestBilateralChannels(t *testing.T) {
	r := testResolver()
	want := []string{"megafon-raiffeisen"}
	if got := r.BilateralChannels(); !reflect.DeepEqual(got, want) {
		t.Errorf("BilateralChannels() = %v, want %v", got, want)
	}
}

func TestPeersOf(t *testing.T) {
	r := testResolver()
	want := []string{"peer0.megafon.nsd.ru:7051", "peer0.raiffeisen.nsd.ru:7051"}
	if got := r.PeersOf("megafon", "raiffeisen", "megafon"); !reflect.DeepEqual(got, want) {
		t.Errorf("PeersOf = %v, want %v", got, want)
	}
	if got := r.PeersOf("unknown"); got != nil {
		t.Errorf("PeersOf(unknown) = %v, want nil", got)
	}
}

func TestPositionChannel(t *testing.T) {
	r := testResolver()
	if got := r.PositionChannel("megafon"); got != "nsd-megafon" {
		t.Errorf("PositionChannel = %q", got)
	}
}
