package main

import (
	"context"
	"flag"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zond/keyd/server"
)

func main() {
	config := server.DefaultConfig()
	var configFile, logFile string

	flag.StringVar(&config.Addr, "addr", config.Addr, "Where to listen for client connections.")
	flag.StringVar(&config.AuditLogPath, "auditlog", config.AuditLogPath, "Path to the connection audit log.")
	flag.StringVar(&configFile, "config", "", "Path to a TOML config file, overriding the above flags.")
	flag.StringVar(&logFile, "logfile", "", "Path to log file (default: stderr).")

	flag.Parse()

	if configFile != "" {
		loaded, err := server.LoadConfig(configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	if logFile != "" {
		log.SetOutput(&lumberjack.Logger{Filename: logFile})
	}

	srv, err := server.New(config)
	if err != nil {
		log.Fatal(err)
	}

	log.Fatal(srv.Start(context.Background()))
}
