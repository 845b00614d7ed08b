// Package metrics экспортирует Prometheus-метрики подсистемы репликации.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/replistream/internal/logging"
)

var (
	// MessagesShipped общее число отправленных сообщений командного потока
	MessagesShipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "messages_shipped_total",
		Help:      "Общее число отправленных сообщений командного потока.",
	})
	// BytesShipped общее число отправленных байт
	BytesShipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "bytes_shipped_total",
		Help:      "Общее число отправленных байт командного потока.",
	})
	// CorrectionsSent число отправленных коррекций динамики
	CorrectionsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "corrections_sent_total",
		Help:      "Число отправленных коррекций динамики.",
	})
	// CorrectionsSkipped число пустых коррекций, не переданных в сеть
	CorrectionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "corrections_skipped_total",
		Help:      "Число пустых коррекций, пропущенных без передачи.",
	})
	// BufferUnderruns число опустошений буфера декодера
	BufferUnderruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "buffer_underruns_total",
		Help:      "Число опустошений буфера декодера.",
	})
	// ProtocolErrors число фатальных ошибок протокола
	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replication",
		Name:      "protocol_errors_total",
		Help:      "Число фатальных ошибок протокола.",
	})
	// ReplayRecordsWritten число записей, добавленных в файл реплея
	ReplayRecordsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "records_written_total",
		Help:      "Число записей, добавленных в файл реплея.",
	})
	// ReplayBytesWritten число сжатых байт, записанных в файлы реплеев
	ReplayBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "bytes_written_total",
		Help:      "Число сжатых байт, записанных в файлы реплеев.",
	})
	// SnapshotsCaptured число снапшотов перемотки
	SnapshotsCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "snapshots_captured_total",
		Help:      "Число захваченных снапшотов перемотки.",
	})
	// Seeks число выполненных перемоток
	Seeks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "seeks_total",
		Help:      "Число выполненных перемоток по файлу реплея.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesShipped, BytesShipped,
		CorrectionsSent, CorrectionsSkipped,
		BufferUnderruns, ProtocolErrors,
		ReplayRecordsWritten, ReplayBytesWritten,
		SnapshotsCaptured, Seeks,
	)
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе
// (например, ":2112"). Метод неблокирующий.
func StartHTTP(addr string) {
	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
}
