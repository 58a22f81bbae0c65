package events

import "fmt"

// Config holds event publishing configuration, typically unmarshalled from
// the "events" section of the service config file.
type Config struct {
	// Enabled controls whether any publisher is built. When false,
	// FromConfig returns a no-op emitter.
	Enabled bool `mapstructure:"enabled"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// FromConfig assembles an emitter over every enabled publisher. A disabled
// config yields a working no-op emitter, so callers never branch.
func FromConfig(cfg Config) (*Emitter, error) {
	if !cfg.Enabled {
		return NewEmitter(), nil
	}

	var publishers []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis publisher: %w", err)
		}
		publishers = append(publishers, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			closeAll(publishers)
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		publishers = append(publishers, p)
	}
	return NewEmitter(publishers...), nil
}

func closeAll(publishers []Publisher) {
	for _, p := range publishers {
		_ = p.Close()
	}
}
