package events

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// SinkDeps carries the clients a configured sink may need.
type SinkDeps struct {
	Redis        redis.UniversalClient
	RedisChannel string
	Kafka        MessageWriter
	Audit        AuditRecorder
}

// Build assembles the publisher for the named sinks (redis, kafka, audit).
// No names yields Nop. The returned close func releases sink resources.
func Build(names []string, deps SinkDeps) (stock.Publisher, func() error, error) {
	var (
		sinks  Fanout
		closer = func() error { return nil }
	)
	for _, raw := range names {
		switch name := strings.ToLower(strings.TrimSpace(raw)); name {
		case "":
			continue
		case "redis":
			if deps.Redis == nil {
				return nil, nil, fmt.Errorf("events: redis sink requires a redis client")
			}
			sinks = append(sinks, NewRedisPublisher(deps.Redis, deps.RedisChannel))
		case "kafka":
			if deps.Kafka == nil {
				return nil, nil, fmt.Errorf("events: kafka sink requires brokers")
			}
			kp := NewKafkaPublisher(deps.Kafka)
			sinks = append(sinks, kp)
			closer = kp.Close
		case "audit":
			if deps.Audit == nil {
				return nil, nil, fmt.Errorf("events: audit sink requires a database")
			}
			sinks = append(sinks, NewAuditPublisher(deps.Audit))
		default:
			return nil, nil, fmt.Errorf("events: unknown sink %q", raw)
		}
	}
	if len(sinks) == 0 {
		return Nop{}, closer, nil
	}
	return sinks, closer, nil
}
