package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/replistream/internal/api"
	"github.com/annel0/replistream/internal/app"
	"github.com/annel0/replistream/internal/config"
	"github.com/annel0/replistream/internal/eventbus"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/metrics"
	"github.com/annel0/replistream/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV REPL_CONFIG)")
	natsURL := flag.String("nats", "", "адрес NATS для шины событий (пусто — in-memory)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎬 Запуск сервера репликации сессий...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	tcpPort := cfg.Server.GetTCPPort()
	kcpPort := cfg.Server.GetKCPPort()
	restPort := cfg.Server.GetRESTPort()
	metricsPort := cfg.Server.GetMetricsPort()
	logging.Info("📡 Конфигурация: TCP=:%d, KCP=:%d, REST=:%d, metrics=:%d",
		tcpPort, kcpPort, restPort, metricsPort)

	// === ТРАССИРОВКА ===
	shutdownTelemetry, err := observability.InitTelemetry(context.Background(), "replistream-server")
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if *natsURL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		bus, err = eventbus.NewJetStreamBus(*natsURL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Error("❌ NATS недоступен: %v", err)
			log.Fatalf("❌ NATS недоступен: %v", err)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	eventbus.Init(bus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("подписка лог-слушателя не удалась: %v", err)
	}
	busExporter := eventbus.NewMetricsExporter(bus)
	busExporter.Start()

	// === МЕТРИКИ ===
	metrics.StartHTTP(fmt.Sprintf(":%d", metricsPort))

	// === ХОСТ-ПРИЛОЖЕНИЕ ===
	hostApp, err := app.NewApp(cfg, logging.GetSessionLogger())
	if err != nil {
		logging.Error("❌ Ошибка сборки приложения: %v", err)
		log.Fatalf("❌ Ошибка сборки приложения: %v", err)
	}
	go hostApp.Run()

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", restPort),
		Library:  hostApp.Library(),
		Playback: hostApp,
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST сервера: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Командный поток: TCP :%d, KCP :%d", tcpPort, kcpPort)
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	hostApp.Stop()
	busExporter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(ctx); err != nil {
		logging.Warn("остановка трассировки: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
