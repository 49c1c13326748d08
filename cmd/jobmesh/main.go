package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jobmesh/jobmesh/internal/common"
	"github.com/jobmesh/jobmesh/internal/jobmesh"
	"github.com/jobmesh/jobmesh/internal/jobmesh/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.JobmeshConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/jobmesh", userSpecifiedConfig)

	log.Info("Starting...")

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopSignal
		cancel()
	}()

	if err := jobmesh.Serve(ctx, &config); err != nil {
		log.Fatal(err)
	}
}
