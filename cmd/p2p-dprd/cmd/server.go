/*
Copyright (c) Magnus Skjegstad / Forsvarets Forskningsinstitutt (FFI).

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MagnusS/p2p-dprd/server"
	"github.com/MagnusS/p2p-dprd/stats"
)

const pprofHTTP = "localhost:6060"

var (
	serverConfigFile string
	serverLogLevel   string
	serverPprof      bool

	serverCfg = server.DefaultConfig()
)

func init() {
	serverCmd.Run = serverCmdRun
	RootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverConfigFile, "config", "", "path to a YAML config file")
	serverCmd.Flags().StringVar(&serverLogLevel, "loglevel", "info", "log level. Can be: debug, info, warning, error")
	serverCmd.Flags().BoolVar(&serverPprof, "pprof", false, "enable pprof")

	serverCmd.Flags().Uint32Var(&serverCfg.ClientID, "id", 0, "node ID, random when 0")
	serverCmd.Flags().Float64Var(&serverCfg.Lat, "lat", serverCfg.Lat, "node latitude in degrees")
	serverCmd.Flags().Float64Var(&serverCfg.Lon, "lon", serverCfg.Lon, "node longitude in degrees")
	serverCmd.Flags().Uint16Var(&serverCfg.CoordRange, "coordrange", serverCfg.CoordRange, "coordination range in meters")
	serverCmd.Flags().StringVar(&serverCfg.OwnIP, "ip", "", "IP address this node is reachable on")
	serverCmd.Flags().Uint16Var(&serverCfg.Port, "port", 0, "UDP port to listen on")
	serverCmd.Flags().StringVar(&serverCfg.OriginPeerIP, "origin-ip", "", "IP address of the bootstrap peer")
	serverCmd.Flags().Uint16Var(&serverCfg.OriginPeerPort, "origin-port", 0, "UDP port of the bootstrap peer")
	serverCmd.Flags().StringVar(&serverCfg.LocalSocketPath, "socket", serverCfg.LocalSocketPath, "path of the local control socket")
	serverCmd.Flags().StringVar(&serverCfg.LogFile, "logfile", "", "log to this file instead of stderr")
	serverCmd.Flags().IntVar(&serverCfg.MonitoringPort, "monitoringport", 0, "port to serve JSON counters on, 0 disables")
	serverCmd.Flags().IntVar(&serverCfg.PrometheusPort, "prometheusport", 0, "port to serve prometheus metrics on, 0 disables")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the P2P-DPRD node",
}

func serverCmdRun(_ *cobra.Command, _ []string) {
	switch serverLogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", serverLogLevel)
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := serverCfg
	if serverConfigFile != "" {
		fileCfg, err := server.ReadConfig(serverConfigFile)
		if err != nil {
			log.Fatalf("reading config: %v", err)
		}
		mergeFlags(fileCfg)
		cfg = fileCfg
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("opening log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config is invalid: %v", err)
	}
	log.Infof("P2P identifier is %d", cfg.ClientID)

	if serverPprof {
		log.Warningf("starting profiler on %s", pprofHTTP)
		go func() {
			log.Println(http.ListenAndServe(pprofHTTP, nil))
		}()
	}

	st := stats.NewJSONStats()
	if cfg.MonitoringPort != 0 {
		go st.Start(cfg.MonitoringPort)
	}
	if cfg.PrometheusPort != 0 {
		exporter := stats.NewPrometheusExporter(st, cfg.PrometheusPort, time.Minute)
		go exporter.Start()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	s := server.New(cfg, st)
	if err := s.Run(ctx); err != nil {
		log.Fatalf("server run failed: %v", err)
	}
}

// mergeFlags lets explicitly set CLI flags override values read from the
// config file.
func mergeFlags(cfg *server.Config) {
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	f := serverCmd.Flags()
	if f.Changed("id") {
		warn("id")
		cfg.ClientID = serverCfg.ClientID
	}
	if f.Changed("lat") {
		warn("lat")
		cfg.Lat = serverCfg.Lat
	}
	if f.Changed("lon") {
		warn("lon")
		cfg.Lon = serverCfg.Lon
	}
	if f.Changed("coordrange") {
		warn("coordrange")
		cfg.CoordRange = serverCfg.CoordRange
	}
	if f.Changed("ip") {
		warn("ip")
		cfg.OwnIP = serverCfg.OwnIP
	}
	if f.Changed("port") {
		warn("port")
		cfg.Port = serverCfg.Port
	}
	if f.Changed("origin-ip") {
		warn("origin-ip")
		cfg.OriginPeerIP = serverCfg.OriginPeerIP
	}
	if f.Changed("origin-port") {
		warn("origin-port")
		cfg.OriginPeerPort = serverCfg.OriginPeerPort
	}
	if f.Changed("socket") {
		warn("socket")
		cfg.LocalSocketPath = serverCfg.LocalSocketPath
	}
	if f.Changed("logfile") {
		warn("logfile")
		cfg.LogFile = serverCfg.LogFile
	}
	if f.Changed("monitoringport") {
		warn("monitoringport")
		cfg.MonitoringPort = serverCfg.MonitoringPort
	}
	if f.Changed("prometheusport") {
		warn("prometheusport")
		cfg.PrometheusPort = serverCfg.PrometheusPort
	}
}
