package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"rfidprog/mqtt"
	"rfidprog/rfid"
	"rfidprog/serial"
	"rfidprog/tags"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg    *Config
	log    *logrus.Logger
	mqtt   *mqtt.Client
	facade *rfid.Facade
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	log := logrus.New()
	log.Infof("rfidprog build %s", myBuild)

	// Environment overrides (.env is optional)
	_ = godotenv.Load()
	defaultCfg := os.Getenv("RFIDPROG_CONFIG")
	if defaultCfg == "" {
		defaultCfg = "rfidprog.yaml"
	}

	cfgfile := flag.String("cfg", defaultCfg, "Config file")
	csvPath := flag.String("csv", "", "Write tag history CSV to this path on shutdown")
	flag.Parse()

	// Load configuration
	var cfg Config
	f, err := os.Open(*cfgfile)
	if err != nil {
		log.WithError(err).Warn("No config file, using defaults")
	} else {
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			log.Fatalf("Decode config: %v", err)
		}
		f.Close()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rfidprog"
	}
	if host := os.Getenv("RFIDPROG_MQTT_HOST"); host != "" {
		cfg.MQTT.Host = host
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    &cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize MQTT status publisher
	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{}, log)
	if err != nil {
		log.Fatalf("Init MQTT: %v", err)
	}

	// Initialize the RFID facade
	app.facade = rfid.New(cfg.Serial, rfid.Handlers{
		OnStateChanged: func(s rfid.State) {
			log.WithField("state", s.String()).Info("Connection state")
			app.publishConnection(s == rfid.StateConnected)
		},
		OnCurrentTagChanged: func(t *tags.Tag) {
			app.publishCurrentTag(t)
		},
		OnTagCountChanged: func(count int) {
			app.publishTagCount(count)
		},
		OnDevicesChanged: func(devices []serial.Device) {
			for _, d := range devices {
				log.WithField("device", d.String()).Debug("Serial device")
			}
			app.autoConnect(devices)
		},
		OnDisconnectNotice: func(port string) {
			log.WithField("port", port).Warn("Disconnected from device")
		},
	}, log)

	if cfg.ReaderModel != 0 {
		if err := app.facade.SelectReaderModel(cfg.ReaderModel); err != nil {
			log.Fatalf("Select reader model: %v", err)
		}
	}

	// Start background goroutines
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.WithError(err).Warn("MQTT connect")
		}
	}()
	go app.facade.Run(ctx)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	cancel()

	if *csvPath != "" {
		if err := app.exportCSV(*csvPath); err != nil {
			log.WithError(err).Error("CSV export failed")
		}
	}

	app.mqtt.Disconnect()
	log.Info("Shutdown complete")
}

// autoConnect opens the configured port as soon as enumeration finds
// it.
func (app *App) autoConnect(devices []serial.Device) {
	if app.cfg.Port == "" || app.facade.State() != rfid.StateIdle {
		return
	}
	for i, d := range devices {
		if d.Port == app.cfg.Port {
			if err := app.facade.SetPort(i); err != nil {
				app.log.WithError(err).Warn("Select port")
				return
			}
			if err := app.facade.Connect(); err != nil {
				app.log.WithError(err).Warn("Connect")
			}
			return
		}
	}
}

// exportCSV dumps the tag history to path.
func (app *App) exportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return app.facade.ExportCSV(f)
}
