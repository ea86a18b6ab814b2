package bootstrap

import (
	"context"
	"fmt"
	"net"

	"github.com/krobus00/order-executor/internal/config"
	"github.com/krobus00/order-executor/internal/constant"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/krobus00/order-executor/internal/executor"
	httpHandler "github.com/krobus00/order-executor/internal/handler/executor/http"
	"github.com/krobus00/order-executor/internal/infrastructure"
	"github.com/krobus00/order-executor/internal/repository"
	"github.com/krobus00/order-executor/internal/service/batch"
	"github.com/krobus00/order-executor/internal/service/notifier"
	"github.com/krobus00/order-executor/internal/service/venue"
	"github.com/krobus00/order-executor/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func StartExecutorGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executorDB, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["order_executor"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, executorDB, config.Env.Database["order_executor"].PingInterval)

	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis["cache"])
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	reportRepo := repository.NewExecutionReportRepository(executorDB)
	idempotencyRepo := repository.NewIdempotencyRepository(redisClient, 0)

	venue.InitBinanceVenue(config.Env.Venues[string(entity.VenueBinance)])

	natsSink := eventbus.NewNatsSink(js)
	telegramSink := eventbus.NewTelegramSink(notifier.NewTelegramNotifier(config.Env.Telegram))

	publishers := []entity.Publisher{natsSink}
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	bus := eventbus.NewOrderEventBus()
	bus.RegisterSink(eventbus.NewLogrusSink(nil))
	bus.RegisterSink(natsSink)
	bus.RegisterSink(telegramSink)

	router := executor.NewOrderRouter(config.Env.Executor, bus)
	batchService := batch.NewService(router, venue.ByID()).
		WithReportRepository(reportRepo).
		WithIdempotencyRepository(idempotencyRepo).
		WithTelegramSink(telegramSink)

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	if config.Env.Env == constant.DevelopmentEnvironment {
		reflection.Register(grpcServer)
	}

	grpcPort := fmt.Sprintf(":%s", config.Env.Port["executor_gateway_grpc"])

	lis, err := net.Listen("tcp", grpcPort)
	util.ContinueOrFatal(err)

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	logrus.Info(fmt.Sprintf("grpc server started on %s", grpcPort))

	executorHTTPHandler := httpHandler.NewExecutorHTTPHandler(batchService)
	httpMux := infrastructure.NewHTTPMux()
	executorHTTPHandler.Register(httpMux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["executor_gateway_http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"executor database": func(ctx context.Context) error {
			cancel()
			return executorDB.Close()
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Close()
		},
		"grpc": func(ctx context.Context) error {
			healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return lis.Close()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}
