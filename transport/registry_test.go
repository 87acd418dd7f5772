package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }

type mockPublisher struct {
	closed int
	err    error
}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed++
	return m.err
}

type mockSubscriber struct {
	closed int
}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return nil
}

func mockBuilder(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())

	reg.Register("b-transport", mockBuilder)
	reg.RegisterWithCapabilities("a-transport", mockBuilder, Capabilities{Name: "a-transport", SupportsAck: true})

	assert.True(t, reg.Has("a-transport"))
	assert.False(t, reg.Has("other"))
	assert.Equal(t, []string{"a-transport", "b-transport"}, reg.Names())
	assert.True(t, reg.GetCapabilities("a-transport").SupportsAck)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "b-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistryUnknownCapabilitiesCarryName(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, Capabilities{Name: "unknown"}, caps)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.Build(ctx, nil, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = reg.Build(ctx, &mockConfig{pubSubSystem: "missing"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)

	builderErr := errors.New("dial failed")
	reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, builderErr
	})
	_, err = reg.Build(ctx, &mockConfig{pubSubSystem: "failing"}, nil)
	assert.ErrorIs(t, err, builderErr)
	assert.ErrorContains(t, err, "build failing transport")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", mockBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("transport"))
}

func TestTransportCloseClosesBothHalvesOnce(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)

	failing := &mockPublisher{err: errors.New("flush failed")}
	assert.ErrorContains(t, Transport{Publisher: failing}.Close(), "flush failed")

	assert.NoError(t, Transport{}.Close())
}

type pubSub struct {
	mockPublisher
	mockSubscriber
}

func (p *pubSub) Close() error {
	p.mockPublisher.closed++
	return nil
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	ps := &pubSub{}
	require.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.Equal(t, 1, ps.mockPublisher.closed)
}

func TestBuiltinCapabilities(t *testing.T) {
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.True(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())
	assert.False(t, HTTPCapabilities.SupportsReliableDelivery())
}
