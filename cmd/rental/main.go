// Package main starts the bike rental synchronization server and handles
// termination.
//
// The process owns one in-memory fleet model; connected clients submit
// intents over a websocket and receive the full snapshot after every
// successful mutation.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	rentalcmd "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/cmd/rental"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/config"
)

func main() {
	cfg, err := rentalcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[RENTAL] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rentalcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
