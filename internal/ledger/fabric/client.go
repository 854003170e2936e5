// Package fabric implements the ledger interfaces on top of fabric-sdk-go.
package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/fabric-sdk-go/pkg/client/channel"
	"github.com/hyperledger/fabric-sdk-go/pkg/client/event"
	"github.com/hyperledger/fabric-sdk-go/pkg/client/resmgmt"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/retry"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/status"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
	fabconfig "github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	"go.uber.org/ratelimit"

	"github.com/nsd-depository/settlement-orchestrator/internal/ledger"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
)

type Config struct {
	ConnectionProfile string
	Org               string
	User              string
	InvokesPerSecond  int
	ResubscribeDelay  time.Duration
}

func (c *Config) Setup() {
	if c.InvokesPerSecond <= 0 {
		c.InvokesPerSecond = 10
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = 5 * time.Second
	}
}

// Client wraps one SDK instance and caches a channel client per channel.
// Invokes from a single client identity are rate limited globally.
type Client struct {
	cfg Config
	sdk *fabsdk.FabricSDK
	log logger.Logger
	lim ratelimit.Limiter

	mu       sync.Mutex
	channels map[string]*channel.Client

	cbMu        sync.Mutex
	onReconnect []func()
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	cfg.Setup()
	sdk, err := fabsdk.New(fabconfig.FromFile(cfg.ConnectionProfile))
	if err != nil {
		return nil, fmt.Errorf("can't init fabric sdk: %w", err)
	}
	return &Client{
		cfg:      cfg,
		sdk:      sdk,
		log:      log,
		lim:      ratelimit.New(cfg.InvokesPerSecond),
		channels: make(map[string]*channel.Client),
	}, nil
}

func (c *Client) Close() {
	c.sdk.Close()
}

func (c *Client) channelClient(channelID string) (*channel.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.channels[channelID]; ok {
		return cc, nil
	}
	cc, err := channel.New(c.sdk.ChannelContext(channelID, fabsdk.WithUser(c.cfg.User), fabsdk.WithOrg(c.cfg.Org)))
	if err != nil {
		return nil, fmt.Errorf("can't create channel client for %s: %w", channelID, err)
	}
	c.channels[channelID] = cc
	return cc, nil
}

func (c *Client) Invoke(ctx context.Context, channelID, chaincode, fn string, args []string, peers ...string) (string, error) {
	cc, err := c.channelClient(channelID)
	if err != nil {
		return "", err
	}

	opts := []channel.RequestOption{channel.WithRetry(retry.DefaultChannelOpts)}
	if len(peers) > 0 {
		opts = append(opts, channel.WithTargetEndpoints(peers...))
	}

	c.lim.Take()
	resp, err := cc.Execute(channel.Request{
		ChaincodeID: chaincode,
		Fcn:         fn,
		Args:        byteArgs(args),
	}, opts...)
	if err != nil {
		return "", chaincodeError(err)
	}
	return string(resp.TransactionID), nil
}

func (c *Client) Query(ctx context.Context, channelID, chaincode, fn string, args []string, peer string) ([]byte, error) {
	cc, err := c.channelClient(channelID)
	if err != nil {
		return nil, err
	}

	var opts []channel.RequestOption
	if peer != "" {
		opts = append(opts, channel.WithTargetEndpoints(peer))
	}

	resp, err := cc.Query(channel.Request{
		ChaincodeID: chaincode,
		Fcn:         fn,
		Args:        byteArgs(args),
	}, opts...)
	if err != nil {
		return nil, chaincodeError(err)
	}
	return resp.Payload, nil
}

func (c *Client) Channels(ctx context.Context, peer string) ([]string, error) {
	rc, err := resmgmt.New(c.sdk.Context(fabsdk.WithUser(c.cfg.User), fabsdk.WithOrg(c.cfg.Org)))
	if err != nil {
		return nil, fmt.Errorf("can't create resource client: %w", err)
	}
	resp, err := rc.QueryChannels(resmgmt.WithTargetEndpoints(peer))
	if err != nil {
		return nil, fmt.Errorf("can't list channels on %s: %w", peer, err)
	}
	out := make([]string, 0, len(resp.Channels))
	for _, info := range resp.Channels {
		out = append(out, info.ChannelId)
	}
	return out, nil
}

func (c *Client) OnReconnect(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Client) notifyReconnect() {
	c.cbMu.Lock()
	callbacks := append([]func(){}, c.onReconnect...)
	c.cbMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// SubscribeBlocks delivers blocks from every given channel into handler
// until ctx is done. Each channel runs its own subscription loop; a dropped
// subscription is re-established after ResubscribeDelay and reconnect
// callbacks fire after every successful (re)subscription.
func (c *Client) SubscribeBlocks(ctx context.Context, channels []string, handler ledger.BlockHandler) error {
	var wg sync.WaitGroup
	for _, channelID := range channels {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			c.listenChannel(ctx, channelID, handler)
		}(channelID)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Client) listenChannel(ctx context.Context, channelID string, handler ledger.BlockHandler) {
	log := c.log.With("channel", channelID)
	for ctx.Err() == nil {
		ec, err := event.New(
			c.sdk.ChannelContext(channelID, fabsdk.WithUser(c.cfg.User), fabsdk.WithOrg(c.cfg.Org)),
			event.WithBlockEvents(),
		)
		if err != nil {
			log.Errorf("can't create event client: %s", err)
			c.sleep(ctx)
			continue
		}

		reg, notifier, err := ec.RegisterBlockEvent()
		if err != nil {
			log.Errorf("can't register block events: %s", err)
			c.sleep(ctx)
			continue
		}
		log.Infof("subscribed to block events")
		c.notifyReconnect()

		c.deliver(ctx, notifier, handler)
		ec.Unregister(reg)
		if ctx.Err() == nil {
			log.Warnf("block subscription lost, resubscribing")
			c.sleep(ctx)
		}
	}
}

func (c *Client) deliver(ctx context.Context, notifier <-chan *fab.BlockEvent, handler ledger.BlockHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-notifier:
			if !ok {
				return
			}
			if ev == nil || ev.Block == nil {
				continue
			}
			handler(ev.Block)
		}
	}
}

func (c *Client) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.ResubscribeDelay):
	}
}

func byteArgs(args []string) [][]byte {
	out := make([][]byte, 0, len(args))
	for _, a := range args {
		out = append(out, []byte(a))
	}
	return out
}

// chaincodeError converts an explicit chaincode rejection into a
// ledger.ChaincodeError so callers can branch on the numeric status without
// knowing the SDK.
func chaincodeError(err error) error {
	if s, ok := status.FromError(err); ok && s.Group == status.ChaincodeStatus {
		return &ledger.ChaincodeError{Code: s.Code, Message: s.Message}
	}
	return err
}
