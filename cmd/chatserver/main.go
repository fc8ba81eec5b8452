package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvid-systems/rtp/chat"
	"github.com/corvid-systems/rtp/transport"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:12345", "address to listen on")
	configPath := flag.String("config", "", "optional YAML transport config file")
	metricsInterval := flag.Duration("metrics-interval", 30*time.Second, "how often to print aggregate transport metrics")
	flag.Parse()

	cfg := transport.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = transport.ReadConfig(*configPath)
		if err != nil {
			log.Fatalln("configuration file error:", err)
		}
	}

	ep, err := transport.Listen(*addr, cfg)
	if err != nil {
		log.Fatalln("listen error:", err)
	}
	defer ep.Close()

	log.Printf("chat server listening on %s\n", ep.LocalAddr())

	server := chat.NewServer(ep)
	reporter := chat.NewMetricsReporter(server, *metricsInterval)
	go reporter.Run()
	defer reporter.Stop()

	go func() {
		if err := server.Serve(); err != nil {
			log.Println("serve error:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down...")
}
