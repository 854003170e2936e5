package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
)

const bookJSON = `[
	{"balance":{"account":"MS980129C","division":"00000000000000000"},"security":"RU000ABC1","quantity":100},
	{"balance":{"account":"UNKNOWN","division":"X"},"security":"RU000ABC1","quantity":7},
	{"balance":{"account":"MZ130605006C","division":"19000000000000000"},"security":"RU000ABC2","quantity":42}
]`

type put struct {
	channel string
	args    []string
	peers   []string
}

type fakeLedger struct {
	mu       sync.Mutex
	book     string
	queryErr error
	putErr   error
	queries  int
	puts     []put
}

func (f *fakeLedger) Query(_ context.Context, channel, chaincode, fn string, _ []string, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if channel != "depository" || chaincode != "book" || fn != "query" {
		return nil, fmt.Errorf("unexpected query %s/%s/%s", channel, chaincode, fn)
	}
	return []byte(f.book), nil
}

func (f *fakeLedger) Invoke(_ context.Context, channel, chaincode, fn string, args []string, peers ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chaincode != "position" || fn != "put" {
		return "", fmt.Errorf("unexpected invoke %s/%s/%s", channel, chaincode, fn)
	}
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts = append(f.puts, put{channel: channel, args: args, peers: peers})
	return "tx1", nil
}

func testResolver() *resolver.Resolver {
	orgs := map[string]resolver.OrgAccounts{
		"megafon": {
			Deponent: "MFONISSUEACC",
			Accounts: map[string][]string{"MS980129C": {"00000000000000000"}},
		},
		"raiffeisen": {
			Deponent: "DE000DB7HWY7",
			Accounts: map[string][]string{"MZ130605006C": {"19000000000000000"}},
		},
	}
	peers := map[string][]string{
		"nsd":        {"peer0.nsd.nsd.ru:7051"},
		"megafon":    {"peer0.megafon.nsd.ru:7051"},
		"raiffeisen": {"peer0.raiffeisen.nsd.ru:7051"},
	}
	return resolver.New("nsd", orgs, peers)
}

func newTestProjector(l *fakeLedger) *Projector {
	return New(logger.Nop{}, l, l, testResolver(),
		"depository", "book", "position", "peer0.nsd.nsd.ru:7051",
		[]string{"peer0.nsd.nsd.ru:7051"},
	)
}

func TestProjectWritesEveryResolvableEntry(t *testing.T) {
	l := &fakeLedger{book: bookJSON}

	if ok := newTestProjector(l).Project(context.Background()); !ok {
		t.Fatal("Project() = false, want true")
	}

	// the unresolvable middle entry is skipped, the rest keep their order
	want := []put{
		{
			channel: "nsd-megafon",
			args:    []string{"MS980129C", "00000000000000000", "RU000ABC1", "100"},
			peers:   []string{"peer0.megafon.nsd.ru:7051"},
		},
		{
			channel: "nsd-raiffeisen",
			args:    []string{"MZ130605006C", "19000000000000000", "RU000ABC2", "42"},
			peers:   []string{"peer0.raiffeisen.nsd.ru:7051"},
		},
	}
	if len(l.puts) != len(want) {
		t.Fatalf("got %d puts, want %d: %v", len(l.puts), len(want), l.puts)
	}
	for i, w := range want {
		got := l.puts[i]
		if got.channel != w.channel {
			t.Errorf("puts[%d].channel = %q, want %q", i, got.channel, w.channel)
		}
		if fmt.Sprint(got.args) != fmt.Sprint(w.args) {
			t.Errorf("puts[%d].args = %v, want %v", i, got.args, w.args)
		}
		if fmt.Sprint(got.peers) != fmt.Sprint(w.peers) {
			t.Errorf("puts[%d].peers = %v, want %v", i, got.peers, w.peers)
		}
	}
}

func TestProjectFailsWhenSnapshotUnreadable(t *testing.T) {
	l := &fakeLedger{queryErr: errors.New("peer unavailable")}

	if ok := newTestProjector(l).Project(context.Background()); ok {
		t.Error("Project() = true, want false on query error")
	}
	if len(l.puts) != 0 {
		t.Errorf("got %d puts, want none", len(l.puts))
	}
}

func TestProjectFailsWhenPutFails(t *testing.T) {
	l := &fakeLedger{book: bookJSON, putErr: errors.New("endorsement failure")}

	if ok := newTestProjector(l).Project(context.Background()); ok {
		t.Error("Project() = true, want false on put error")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	l := &fakeLedger{book: "[]"}
	p := newTestProjector(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	for i := 0; i < 10; i++ {
		p.Trigger()
	}

	// let the loop drain; at least one run must happen, bursts may coalesce
	deadline := time.After(2 * time.Second)
	for {
		l.mu.Lock()
		n := l.queries
		l.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("triggered projection never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queries > 10 {
		t.Errorf("got %d projection runs for 10 triggers, want coalescing", l.queries)
	}
}
