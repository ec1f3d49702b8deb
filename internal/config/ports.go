package config

// Default ports. Every one of them can be overridden in configuration.
const (
	// APIServerPort is the port of the REST and WebSocket server.
	APIServerPort = 8080

	// MetricsPort is the standalone Prometheus listener.
	MetricsPort = 9100
)

// Vendor front ports of a default Femas test environment.
const (
	FemasTraderFrontPort = 20002
	FemasMarketFrontPort = 20004
)

// Infrastructure Service Ports
const (
	VaultPort    = 8200
	PostgresPort = 5432
	RedisPort    = 6379
	NATSPort     = 4222
)

// AllPorts returns the default ports keyed by service name.
func AllPorts() map[string]int {
	return map[string]int{
		"api":          APIServerPort,
		"metrics":      MetricsPort,
		"femas_trader": FemasTraderFrontPort,
		"femas_market": FemasMarketFrontPort,
		"vault":        VaultPort,
		"postgres":     PostgresPort,
		"redis":        RedisPort,
		"nats":         NATSPort,
	}
}
