package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
	"github.com/tostmann/ha-enocean-mqtt-slim/gateway"
)

var configFile = flag.String("config", "", "read settings from YAML or TOML `file`")
var defDirs = flag.String("d", "", "comma separated list of EEP definition `dirs`")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection")
var verbose = flag.Bool("v", false, "verbose logging")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

const reconnectDelay = 12 * time.Second

func setupLogger(cfg LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if *verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// httpAddr accepts :[portnum] as well as [portnum]
func httpAddr(s string) string {
	if i, err := strconv.Atoi(s); err == nil {
		return fmt.Sprintf(":%d", i)
	}
	return s
}

func loadConfig() *Config {
	cfg := DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = LoadConfig(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *connTo != "" {
		cfg.Link = *connTo
	}
	if *defDirs != "" {
		cfg.Definitions = strings.Split(*defDirs, ",")
	}
	if *httpServe != "" {
		cfg.HTTP.Addr = *httpServe
	}
	return cfg
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	setupLogger(cfg.Log)
	log.Infof("enoceand %v (%v)", buildVersion, buildDate)

	if cfg.Link == "" {
		log.Fatal("Need connection string in -c option or link in config file")
	}

	registry, err := eep.LoadDir(cfg.Definitions...)
	if err != nil {
		log.Fatalf("Loading EEP definitions: %v", err)
	}

	dir, err := gateway.ParseDirectory(cfg.Devices)
	if err != nil {
		log.Fatalf("Invalid device list: %v", err)
	}
	for sender, id := range dir {
		if _, err := registry.Resolve(id); err != nil {
			log.Warnf("Device %v: %v", sender, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()

	conn := esp3.NewDevice()
	if err := conn.Connect(cfg.Link); err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	g := gateway.New(conn, registry, dir)
	g.RespondTeachIn = cfg.TeachIn.Respond
	g.State.SetLink(cfg.Link)
	g.Sinks = []gateway.Sink{gateway.LogSink{}}

	if cfg.Redis.Enabled {
		rs, err := gateway.NewRedisSink(ctx, gateway.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer rs.Close()
		g.Sinks = append(g.Sinks, rs)
	}

	if cfg.HTTP.Addr != "" {
		router := gateway.NewRouter(g, gateway.BuildInfo{Version: buildVersion, BuildDate: buildDate})
		h := &http.Server{Addr: httpAddr(cfg.HTTP.Addr), Handler: router}
		go func() { log.Error(h.ListenAndServe()) }()
		defer h.Close()
	}

	for {
		err := g.Run(ctx)
		if ctx.Err() != nil {
			log.Info("Shutting down")
			return
		}
		if err != nil {
			log.Error(err)
		} else {
			log.Warn("Connection closed")
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		if err := conn.Reconnect(); err != nil {
			log.Error(err)
		} else {
			log.Infof("Reconnected")
		}
	}
}
