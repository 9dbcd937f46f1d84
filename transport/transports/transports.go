// Package transports imports every built-in transport so each registers
// itself with the default registry.
package transports

import (
	_ "github.com/drblury/flowscope/transport/aws"
	_ "github.com/drblury/flowscope/transport/channel"
	_ "github.com/drblury/flowscope/transport/http"
	_ "github.com/drblury/flowscope/transport/io"
	_ "github.com/drblury/flowscope/transport/jetstream"
	_ "github.com/drblury/flowscope/transport/kafka"
	_ "github.com/drblury/flowscope/transport/nats"
	_ "github.com/drblury/flowscope/transport/rabbitmq"
	_ "github.com/drblury/flowscope/transport/redisstream"
)
