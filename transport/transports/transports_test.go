package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/txnode/transport"
)

func TestBuiltinsRegistered(t *testing.T) {
	assert.Equal(t, []string{"channel", "http", "kafka", "nats", "rabbitmq"}, transport.DefaultRegistry.Names())
}
