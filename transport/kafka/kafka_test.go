package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/txnode/transport"
	"github.com/drblury/txnode/transport/transporttest"
)

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		return pub, pubErr
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		return sub, subErr
	}
}

func TestRegister(t *testing.T) {
	r := transport.NewRegistry()
	Register(r)

	assert.True(t, r.Has(TransportName))
	caps := r.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsPartitioning)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestBuild(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	stubFactories(t, pub, nil, sub, nil)

	var group string
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		group = cfg.ConsumerGroup
		return sub, nil
	}

	tr, err := Build(context.Background(), &transporttest.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "nodes",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
	assert.Equal(t, "nodes", group)
}

func TestBuildDefaultConsumerGroup(t *testing.T) {
	sub := &transporttest.Subscriber{}
	stubFactories(t, &transporttest.Publisher{}, nil, sub, nil)

	var group string
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		group = cfg.ConsumerGroup
		return sub, nil
	}

	_, err := Build(context.Background(), &transporttest.Config{
		KafkaBrokers: []string{"localhost:9092"},
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConsumerGroup, group)
}

func TestBuildRequiresBrokers(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.ErrorIs(t, err, errNoBrokers)
}

func TestBuildPublisherError(t *testing.T) {
	boom := errors.New("publisher failed")
	stubFactories(t, nil, boom, &transporttest.Subscriber{}, nil)

	_, err := Build(context.Background(), &transporttest.Config{
		KafkaBrokers: []string{"localhost:9092"},
	}, watermill.NopLogger{})
	require.ErrorIs(t, err, boom)
}

func TestBuildSubscriberErrorClosesPublisher(t *testing.T) {
	boom := errors.New("subscriber failed")
	pub := &transporttest.Publisher{}
	stubFactories(t, pub, nil, nil, boom)

	_, err := Build(context.Background(), &transporttest.Config{
		KafkaBrokers: []string{"localhost:9092"},
	}, watermill.NopLogger{})
	require.ErrorIs(t, err, boom)
	assert.True(t, pub.Closed)
}
