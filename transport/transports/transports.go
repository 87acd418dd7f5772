// Package transports imports all built-in transports for registration with
// the default registry.
package transports

import (
	_ "github.com/drblury/txnode/transport/channel"
	_ "github.com/drblury/txnode/transport/http"
	_ "github.com/drblury/txnode/transport/kafka"
	_ "github.com/drblury/txnode/transport/nats"
	_ "github.com/drblury/txnode/transport/rabbitmq"
)
