package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/txnode/transport"
	"github.com/drblury/txnode/transport/transporttest"
)

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) *watermillhttp.PublisherConfig {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})
	var pubCfg watermillhttp.PublisherConfig
	PublisherFactory = func(cfg watermillhttp.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		return pub, pubErr
	}
	SubscriberFactory = func(addr string, _ watermillhttp.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8090", addr)
		return sub, subErr
	}
	return &pubCfg
}

func TestRegister(t *testing.T) {
	r := transport.NewRegistry()
	Register(r)

	caps := r.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestBuild(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	pubCfg := stubFactories(t, pub, nil, sub, nil)

	tr, err := Build(context.Background(), &transporttest.Config{
		HTTPServerAddress: ":8090",
		HTTPPublisherURL:  "http://peer:8090/",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)

	msg := message.NewMessage("1", []byte(`{"from":"0x01"}`))
	req, err := pubCfg.MarshalMessageFunc("txs", msg)
	require.NoError(t, err)
	assert.Equal(t, nethttp.MethodPost, req.Method)
	assert.Equal(t, "http://peer:8090/txs", req.URL.String())
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"0x01"}`, string(body))
}

func TestBuildRequiresServerAddress(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.ErrorIs(t, err, errNoServerAddress)
}

func TestBuildErrors(t *testing.T) {
	cfg := &transporttest.Config{HTTPServerAddress: ":8090"}

	t.Run("publisher", func(t *testing.T) {
		boom := errors.New("publisher failed")
		stubFactories(t, nil, boom, &transporttest.Subscriber{}, nil)
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.ErrorIs(t, err, boom)
	})

	t.Run("subscriber", func(t *testing.T) {
		boom := errors.New("subscriber failed")
		pub := &transporttest.Publisher{}
		stubFactories(t, pub, nil, nil, boom)
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.ErrorIs(t, err, boom)
		assert.True(t, pub.Closed)
	})
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "http://peer/state", TopicURL("http://peer/", "state"))
}
