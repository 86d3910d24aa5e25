// Command rdpmitm runs the MITM proxy: it listens for RDP clients, fronts
// a real server with a forged identity, and records every session to disk.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/proxysec/rdpmitm/config"
	"github.com/proxysec/rdpmitm/engine"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/mitm"
	"github.com/proxysec/rdpmitm/recorder"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file (defaults built in if omitted)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		glog.SetLevel(glog.DEBUG)
	}

	cfg := config.LoadFromEnvironment()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			glog.Errorf("loading config: %v", err)
			os.Exit(1)
		}
		cfg.Merge(loaded)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rdpmitm: %v\n", err)
		os.Exit(1)
	}

	if !*verbose {
		switch cfg.Logging.Level {
		case "debug":
			glog.SetLevel(glog.DEBUG)
		case "warn":
			glog.SetLevel(glog.WARN)
		case "error":
			glog.SetLevel(glog.ERROR)
		}
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			glog.Errorf("opening log file: %v", err)
			os.Exit(1)
		}
		glog.SetStructuredLogger(glog.NewStructuredLogger(f, glog.INFO))
	}

	identity, err := engine.GenerateIdentity(cfg.Proxy.IdentityCommonName)
	if err != nil {
		glog.Errorf("generating proxy identity: %v", err)
		os.Exit(1)
	}

	var liveView *recorder.SocketSink
	if cfg.Proxy.LiveViewAddress != "" {
		liveView = recorder.NewSocketSink()
		go func() {
			glog.Infof("live view listening on %s", cfg.Proxy.LiveViewAddress)
			if err := http.ListenAndServe(cfg.Proxy.LiveViewAddress, liveView); err != nil {
				glog.Errorf("live view server: %v", err)
			}
		}()
	}

	opts := mitm.Options{
		TargetAddr: cfg.Proxy.TargetAddress,
		Identity:   identity,
		Dial: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, cfg.Connection.ConnectTimeout)
		},
	}
	if cfg.Authentication.Substitute {
		opts.Credentials = &mitm.Credentials{
			Domain:   cfg.Authentication.Domain,
			Username: cfg.Authentication.Username,
			Password: cfg.Authentication.Password,
		}
	}

	lcfg := mitm.ListenerConfig{
		Options:   opts,
		RecordDir: cfg.Proxy.RecordingDir,
	}
	if liveView != nil {
		lcfg.LiveView = liveView
	}

	if cfg.Proxy.RecordingDir != "" {
		if err := os.MkdirAll(cfg.Proxy.RecordingDir, 0o755); err != nil {
			glog.Errorf("creating recording directory: %v", err)
			os.Exit(1)
		}
	}

	ln, err := mitm.NewListener(cfg.Proxy.ListenAddress, lcfg)
	if err != nil {
		glog.Errorf("binding %s: %v", cfg.Proxy.ListenAddress, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		glog.Infof("shutting down")
		ln.Close()
	}()

	glog.Infof("rdpmitm listening on %s, forwarding to %s", cfg.Proxy.ListenAddress, cfg.Proxy.TargetAddress)
	if err := ln.Serve(); err != nil {
		glog.Infof("listener stopped: %v", err)
	}
}
