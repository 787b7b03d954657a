package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Streamer Streamer `yaml:"streamer" json:"streamer"`
	Server   Server   `yaml:"server" json:"server"`
}

type Streamer struct {
	MaxBatchSize   int `yaml:"max_batch_size" json:"max_batch_size"`
	SendIntervalMs int `yaml:"send_interval_ms" json:"send_interval_ms"`
	MaxQueueSize   int `yaml:"max_queue_size" json:"max_queue_size"`
	ViewDistance   int `yaml:"view_distance" json:"view_distance"`
	// YRangeSpan is the number of blocks sampled above and below the observer.
	YRangeSpan int `yaml:"y_range_span" json:"y_range_span"`
}

type Server struct {
	HubQueue         int   `yaml:"hub_queue" json:"hub_queue"`
	ObserverOutQueue int   `yaml:"observer_out_queue" json:"observer_out_queue"`
	MaxMessageBytes  int64 `yaml:"max_message_bytes" json:"max_message_bytes"`
	MaxRequestChunks int   `yaml:"max_request_chunks" json:"max_request_chunks"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Streamer: Streamer{
			MaxBatchSize:   3,
			SendIntervalMs: 250,
			MaxQueueSize:   50,
			ViewDistance:   4,
			YRangeSpan:     40,
		},
		Server: Server{
			HubQueue:         256,
			ObserverOutQueue: 64,
			MaxMessageBytes:  16 << 20,
			MaxRequestChunks: 256,
		},
	}
}

func (s Streamer) SendInterval() time.Duration {
	return time.Duration(s.SendIntervalMs) * time.Millisecond
}

// Load reads a YAML file over the defaults: keys absent from the file keep their
// default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	s := t.Streamer
	switch {
	case s.MaxBatchSize <= 0:
		return fmt.Errorf("streamer.max_batch_size must be > 0")
	case s.SendIntervalMs <= 0:
		return fmt.Errorf("streamer.send_interval_ms must be > 0")
	case s.MaxQueueSize <= 0:
		return fmt.Errorf("streamer.max_queue_size must be > 0")
	case s.ViewDistance < 0:
		return fmt.Errorf("streamer.view_distance must be >= 0")
	case s.YRangeSpan < 0 || s.YRangeSpan > 255:
		return fmt.Errorf("streamer.y_range_span must be in [0,255]")
	}
	if t.Server.HubQueue <= 0 || t.Server.ObserverOutQueue <= 0 {
		return fmt.Errorf("server queues must be > 0")
	}
	if t.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.max_message_bytes must be > 0")
	}
	return nil
}
