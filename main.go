package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/riptide-app/riptide/internal"
	"github.com/riptide-app/riptide/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program; it loads the user provided
// configuration file and runs Riptide until an interrupt is received or a
// service crashes.
func main() {
	configPath := flag.String("config", "/config.yaml", "The path to the yaml configuration file")
	logLevel := flag.Int("log-level", 2, "The minimum log status to print (0-9); lower values enable more verbose logging")
	flag.Parse()

	logger.SetMinLoggingLevel(*logLevel)

	config := internal.RiptideConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Riptide stopped: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Riptide shutdown complete\n")
}

func listenForInterrupt(cancel context.CancelFunc) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	log.Emit(logger.INFO, "Interrupt detected!\n")
	cancel()
}
