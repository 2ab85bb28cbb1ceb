// Package feed provides the market data ingress drivers. The ZeroMQ driver
// speaks the DWX-style MT4 connector protocol (PUSH for commands, PULL for
// command responses, SUB for streamed ticks and bars); the RabbitMQ driver
// consumes pre-encoded batches from a gateway queue; the memory driver
// backs tests.
package feed
