package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.

type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	Replay      ReplayConfig      `yaml:"replay"`
	Server      ServerConfig      `yaml:"server"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
}

// ReplicationConfig параметры командного потока хоста.
type ReplicationConfig struct {
	BufferTimeMs         int `yaml:"buffer_time_ms"`         // минимальный интервал между отправками сообщений
	CorrectionIntervalMs int `yaml:"correction_interval_ms"` // каденс физических коррекций
}

// ReplayConfig параметры записи и воспроизведения реплеев.
type ReplayConfig struct {
	Dir                string `yaml:"dir"`                  // каталог файлов реплеев
	SnapshotIntervalMs int    `yaml:"snapshot_interval_ms"` // каденс снапшотов при чтении
	WriteQueueSize     int    `yaml:"write_queue_size"`     // буфер фонового писателя
}

type ServerConfig struct {
	TCPPort     int `yaml:"tcp_port"`
	KCPPort     int `yaml:"kcp_port"`
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// GetBufferTimeMs возвращает интервал буферизации с поддержкой fallback значений
func (r *ReplicationConfig) GetBufferTimeMs() int {
	return getIntWithEnvFallback(r.BufferTimeMs, "REPL_BUFFER_TIME_MS", 50)
}

// GetCorrectionIntervalMs возвращает интервал коррекций с поддержкой fallback значений
func (r *ReplicationConfig) GetCorrectionIntervalMs() int {
	return getIntWithEnvFallback(r.CorrectionIntervalMs, "REPL_CORRECTION_INTERVAL_MS", 1000)
}

// GetDir возвращает каталог реплеев с поддержкой fallback значений
func (r *ReplayConfig) GetDir() string {
	if r.Dir != "" {
		return r.Dir
	}
	if dir := os.Getenv("REPL_REPLAY_DIR"); dir != "" {
		return dir
	}
	return "replays"
}

// GetSnapshotIntervalMs возвращает каденс снапшотов с поддержкой fallback значений
func (r *ReplayConfig) GetSnapshotIntervalMs() int {
	return getIntWithEnvFallback(r.SnapshotIntervalMs, "REPL_SNAPSHOT_INTERVAL_MS", 500)
}

// GetWriteQueueSize возвращает размер очереди писателя с поддержкой fallback значений
func (r *ReplayConfig) GetWriteQueueSize() int {
	return getIntWithEnvFallback(r.WriteQueueSize, "REPL_WRITE_QUEUE_SIZE", 256)
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getIntWithEnvFallback(s.TCPPort, "REPL_TCP_PORT", 7777)
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getIntWithEnvFallback(s.KCPPort, "REPL_KCP_PORT", 7778)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getIntWithEnvFallback(s.RESTPort, "REPL_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "REPL_METRICS_PORT", 2112)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REPL_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPL_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
