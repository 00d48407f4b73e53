// Package catalog advertises the voices this node serves and tracks the
// voices of peer nodes on the bus.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// CapabilityVoice is the capability name a node advertises per loaded voice.
const CapabilityVoice = "tts.voice"

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// VoiceSource lists the voices to advertise.
type VoiceSource interface {
	List() []*tts.Handle
	DefaultVoice() string
}

type Catalog struct {
	cfg    config.NodeConfig
	log    *slog.Logger
	bus    *bus.Client
	voices VoiceSource

	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
}

func New(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, voices VoiceSource, log *slog.Logger) (*Catalog, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &Catalog{
		cfg:    cfg,
		log:    log.With(slog.String("component", "voice-catalog")),
		bus:    busClient,
		voices: voices,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
	}

	if err := c.initMetrics(otel.Meter("github.com/loqalabs/loqa-tts/catalog")); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := c.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(2)
	go c.runHeartbeat(ctx)
	go c.monitorHealth(ctx)

	if err := c.Announce(); err != nil {
		c.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return c, nil
}

func (c *Catalog) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.wg.Wait()
}

func (c *Catalog) subscribe() error {
	conn := c.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, c.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	c.subs = append(c.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", c.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	c.subs = append(c.subs, heartbeatSub)
	return nil
}

func (c *Catalog) runHeartbeat(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.publishHeartbeat(); err != nil {
				c.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Catalog) monitorHealth(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evaluateHealth(time.Now())
		}
	}
}

// Announce publishes the current voice list. Call it again after the set of
// loaded voices changes.
func (c *Catalog) Announce() error {
	msg := announceMessage{
		NodeID:       c.cfg.ID,
		Role:         c.cfg.Role,
		Capabilities: c.localCapabilities(),
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.bus.Conn().Publish(protocol.SubjectNodeAnnounce, payload); err != nil {
		return err
	}
	c.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (c *Catalog) localCapabilities() []Capability {
	defaultVoice := c.voices.DefaultVoice()
	handles := c.voices.List()
	caps := make([]Capability, 0, len(handles))
	for _, h := range handles {
		caps = append(caps, Capability{
			Name: CapabilityVoice,
			Tier: c.cfg.Tier,
			Attributes: map[string]string{
				"voice":        h.Name,
				"family":       h.Family.String(),
				"sample_rate":  strconv.Itoa(h.SampleRate()),
				"num_speakers": strconv.Itoa(h.NumSpeakers()),
				"default":      strconv.FormatBool(h.Name == defaultVoice),
			},
		})
	}
	return caps
}

func (c *Catalog) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:    c.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.bus.Conn().Publish(protocol.SubjectNodeHeartbeatPrefix+"."+c.cfg.ID, payload)
}

func (c *Catalog) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		c.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	c.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (c *Catalog) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		c.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	c.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (c *Catalog) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		c.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if capabilities != nil {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (c *Catalog) evaluateHealth(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := time.Duration(c.cfg.HeartbeatTimeout) * time.Millisecond
	for _, node := range c.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node has seen its own announcement.
func (c *Catalog) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	node, ok := c.nodes[c.cfg.ID]
	return ok && node.Healthy
}

// Nodes returns the known nodes matching filter, sorted by id.
func (c *Catalog) Nodes(filter func(NodeInfo) bool) []NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []NodeInfo
	for _, node := range c.nodes {
		n := *node
		n.Capabilities = append([]Capability(nil), node.Capabilities...)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// WithVoice matches healthy nodes serving voice.
func WithVoice(voice string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		if !node.Healthy {
			return false
		}
		for _, capability := range node.Capabilities {
			if capability.Name == CapabilityVoice && capability.Attributes["voice"] == voice {
				return true
			}
		}
		return false
	}
}

func WithTier(tier string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, capability := range node.Capabilities {
			if capability.Tier == tier {
				return true
			}
		}
		return false
	}
}

func (c *Catalog) initMetrics(meter metric.Meter) error {
	nodeGauge, err := meter.Int64ObservableGauge("loqa.catalog.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	voiceGauge, err := meter.Int64ObservableGauge("loqa.catalog.voices", metric.WithDescription("Voices advertised across known nodes"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		nodes, voices := c.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(voiceGauge, voices)
		return nil
	}, nodeGauge, voiceGauge)
	return err
}

func (c *Catalog) snapshotCounts() (nodes, voices int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, node := range c.nodes {
		nodes++
		for _, capability := range node.Capabilities {
			if capability.Name == CapabilityVoice {
				voices++
			}
		}
	}
	return nodes, voices
}
