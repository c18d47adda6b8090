// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/northwind-crm/crmbus/transport/aws"
	_ "github.com/northwind-crm/crmbus/transport/channel"
	_ "github.com/northwind-crm/crmbus/transport/http"
	_ "github.com/northwind-crm/crmbus/transport/kafka"
	_ "github.com/northwind-crm/crmbus/transport/nats"
	_ "github.com/northwind-crm/crmbus/transport/rabbitmq"
)
