package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticVoices struct {
	handles      []*tts.Handle
	defaultVoice string
}

func (s staticVoices) List() []*tts.Handle  { return s.handles }
func (s staticVoices) DefaultVoice() string { return s.defaultVoice }

func newVoices(t *testing.T) staticVoices {
	t.Helper()
	kokoro, err := engine.NewMock(model.EngineConfig{Family: model.Kokoro})
	require.NoError(t, err)
	vits, err := engine.NewMock(model.EngineConfig{Family: model.Vits})
	require.NoError(t, err)
	return staticVoices{
		handles: []*tts.Handle{
			tts.NewHandle("kokoro-en", "/models/kokoro-en", model.Kokoro, kokoro),
			tts.NewHandle("vits-amy", "/models/vits-amy", model.Vits, vits),
		},
		defaultVoice: "kokoro-en",
	}
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	client, err := bus.Connect("catalog-test", config.BusConfig{Servers: []string{server.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func nodeConfig(id string) config.NodeConfig {
	return config.NodeConfig{ID: id, Role: "tts", Tier: "balanced", HeartbeatInterval: 50, HeartbeatTimeout: 200}
}

func TestAnnounceAdvertisesLoadedVoices(t *testing.T) {
	client := startBus(t)
	c, err := New(context.Background(), nodeConfig("node-a"), client, newVoices(t), newLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.True(t, c.Healthy())
	nodes := c.Nodes(nil)
	require.Len(t, nodes, 1)
	require.Equal(t, "tts", nodes[0].Role)
	require.Len(t, nodes[0].Capabilities, 2)

	first := nodes[0].Capabilities[0]
	require.Equal(t, CapabilityVoice, first.Name)
	require.Equal(t, "balanced", first.Tier)
	require.Equal(t, "kokoro-en", first.Attributes["voice"])
	require.Equal(t, "Kokoro", first.Attributes["family"])
	require.Equal(t, "24000", first.Attributes["sample_rate"])
	require.Equal(t, "53", first.Attributes["num_speakers"])
	require.Equal(t, "true", first.Attributes["default"])
	require.Equal(t, "false", nodes[0].Capabilities[1].Attributes["default"])

	require.Len(t, c.Nodes(WithVoice("vits-amy")), 1)
	require.Empty(t, c.Nodes(WithVoice("matcha")))
	require.Len(t, c.Nodes(WithTier("balanced")), 1)
}

func TestPeerAnnouncementsAndExpiry(t *testing.T) {
	client := startBus(t)
	c, err := New(context.Background(), nodeConfig("node-a"), client, staticVoices{}, newLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	peer := announceMessage{
		NodeID: "node-b",
		Role:   "tts",
		Capabilities: []Capability{{
			Name:       CapabilityVoice,
			Attributes: map[string]string{"voice": "matcha-en"},
		}},
	}
	payload, err := json.Marshal(peer)
	require.NoError(t, err)
	require.NoError(t, client.Conn().Publish(protocol.SubjectNodeAnnounce, payload))
	require.NoError(t, client.Conn().Flush())

	require.Eventually(t, func() bool {
		return len(c.Nodes(WithVoice("matcha-en"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	nodes, voices := c.snapshotCounts()
	require.EqualValues(t, 2, nodes)
	require.EqualValues(t, 1, voices)

	// node-b never heartbeats, so it goes unhealthy after the timeout.
	c.evaluateHealth(time.Now().Add(time.Second))
	require.Empty(t, c.Nodes(WithVoice("matcha-en")))
}

func TestHeartbeatKeepsNodeHealthy(t *testing.T) {
	client := startBus(t)
	c, err := New(context.Background(), nodeConfig("node-a"), client, newVoices(t), newLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	before := c.Nodes(nil)[0].LastSeen
	require.Eventually(t, func() bool {
		return c.Nodes(nil)[0].LastSeen.After(before)
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, c.Nodes(nil)[0].Capabilities, 2)
}
