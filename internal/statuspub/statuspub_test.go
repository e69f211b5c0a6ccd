package statuspub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/telemetry"
)

type fakeToken struct{ err error }

func (f fakeToken) Wait() bool { return true }

func (f fakeToken) WaitTimeout(time.Duration) bool { return true }

func (f fakeToken) Error() error { return f.err }

func (f fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publication struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker implements just enough of the paho client to observe what the
// publisher sends.
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	pubs      []publication
}

func (f *fakeBroker) IsConnected() bool { return f.IsConnectionOpen() }

func (f *fakeBroker) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return fakeToken{}
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, publication{topic, qos, retained, payload.([]byte)})
	return fakeToken{}
}

func (f *fakeBroker) published() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publication(nil), f.pubs...)
}

func (f *fakeBroker) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (f *fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (f *fakeBroker) Unsubscribe(...string) mqtt.Token { return fakeToken{} }

func (f *fakeBroker) AddRoute(string, mqtt.MessageHandler) {}

func (f *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "fieldgate", cfg.ClientID)
	assert.Equal(t, "fieldgate/status", cfg.Topic)
	assert.Equal(t, 0, cfg.QoS)

	assert.Equal(t, 0, Config{QoS: 7}.withDefaults().QoS)
	assert.Equal(t, 0, Config{QoS: -1}.withDefaults().QoS)
	assert.Equal(t, 2, Config{QoS: 2}.withDefaults().QoS)
	assert.Equal(t, "plant/gw", Config{Topic: "plant/gw"}.withDefaults().Topic)
}

func TestNewPublisherAppliesDefaults(t *testing.T) {
	p := NewPublisher(Config{Broker: "tcp://127.0.0.1:1", QoS: 9}, telemetry.NewBus(), zap.NewNop().Sugar())
	assert.Equal(t, "fieldgate/status", p.topic)
	assert.Equal(t, byte(0), p.qos)
}

func TestPublishRendersStatus(t *testing.T) {
	broker := &fakeBroker{connected: true}
	p := &Publisher{cli: broker, bus: telemetry.NewBus(), topic: "plant/gw", qos: 1, log: zap.NewNop().Sugar()}

	p.publish(telemetry.Snapshot{Position: 1234, CounterTarget: 10, Connected: true, Taken: time.Now()})

	pubs := broker.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "plant/gw", pubs[0].topic)
	assert.Equal(t, byte(1), pubs[0].qos)
	assert.False(t, pubs[0].retained)

	var st telemetry.Status
	require.NoError(t, json.Unmarshal(pubs[0].payload, &st))
	assert.Equal(t, "status", st.Type)
	assert.Equal(t, 1234, st.Data.Position)
	assert.Equal(t, 10, st.Data.CounterTarget)
}

func TestPublishSkipsWhileDisconnected(t *testing.T) {
	broker := &fakeBroker{}
	p := &Publisher{cli: broker, bus: telemetry.NewBus(), topic: "plant/gw", log: zap.NewNop().Sugar()}

	p.publish(telemetry.Snapshot{Position: 1})
	assert.Empty(t, broker.published(), "snapshots are dropped, not queued")
}

func TestRunForwardsBus(t *testing.T) {
	broker := &fakeBroker{}
	bus := telemetry.NewBus()
	p := &Publisher{cli: broker, bus: bus, topic: "plant/gw", log: zap.NewNop().Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(broker.published()) == 0 && time.Now().Before(deadline) {
		bus.Publish(telemetry.Snapshot{Position: 9})
		time.Sleep(2 * time.Millisecond)
	}
	require.NotEmpty(t, broker.published())
	assert.Equal(t, "plant/gw", broker.published()[0].topic)

	cancel()
	<-done
	assert.False(t, broker.IsConnectionOpen(), "Run disconnects on the way out")
}
