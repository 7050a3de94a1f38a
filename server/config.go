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

package server

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/MagnusS/p2p-dprd/protocol"
)

// Config defaults. Protocol constants follow the P2P-DPRD paper: the
// random list holds 2N nodes, the important list M+K, and the important
// list grows in steps of K.
const (
	DefaultN                = 10
	DefaultM                = 30
	DefaultK                = 15
	DefaultTimeout          = 10 * time.Second
	DefaultTimeoutVariation = 2 * time.Second
	DefaultNodeMaxAge       = 10800 * time.Second
	DefaultCoordRange       = 10
	DefaultLat              = 59.921161
	DefaultLon              = 10.733608
	DefaultLocalSocketPath  = "/tmp/p2p-dprd.sock"
	DefaultRadacIP          = "127.0.0.1"
	DefaultRadacPort        = 45542
)

// Config carries everything the service needs to run. Only position and
// coordination range are mutated after startup, and only from the
// reactor goroutine; everything else is read-only once Validate has run.
type Config struct {
	ClientID         uint32        `yaml:"client_id"`
	Lat              float64       `yaml:"lat"`
	Lon              float64       `yaml:"lon"`
	CoordRange       uint16        `yaml:"coord_range"`
	OwnIP            string        `yaml:"own_ip"`
	Port             uint16        `yaml:"port"`
	OriginPeerIP     string        `yaml:"origin_peer_ip"`
	OriginPeerPort   uint16        `yaml:"origin_peer_port"`
	Timeout          time.Duration `yaml:"client_timeout"`
	TimeoutVariation time.Duration `yaml:"client_timeout_variation"`
	NodeMaxAge       time.Duration `yaml:"node_max_age"`
	N                uint16        `yaml:"proto_n"`
	M                uint16        `yaml:"proto_m"`
	K                uint16        `yaml:"proto_k"`
	LocalSocketPath  string        `yaml:"local_socket_path"`
	RadacIP          string        `yaml:"radac_ip"`
	RadacPort        uint16        `yaml:"radac_port"`
	LogFile          string        `yaml:"log_file"`
	MonitoringPort   int           `yaml:"monitoring_port"`
	PrometheusPort   int           `yaml:"prometheus_port"`

	ownIP    uint32
	originIP uint32
	radacIP  uint32
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() *Config {
	return &Config{
		Lat:              DefaultLat,
		Lon:              DefaultLon,
		CoordRange:       DefaultCoordRange,
		Timeout:          DefaultTimeout,
		TimeoutVariation: DefaultTimeoutVariation,
		NodeMaxAge:       DefaultNodeMaxAge,
		N:                DefaultN,
		M:                DefaultM,
		K:                DefaultK,
		LocalSocketPath:  DefaultLocalSocketPath,
		RadacIP:          DefaultRadacIP,
		RadacPort:        DefaultRadacPort,
	}
}

// ReadConfig reads a YAML config from path on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks mandatory fields, resolves IP addresses and assigns a
// random client ID when none is configured. Must be called once before
// the config is used.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port must be set")
	}
	if c.OwnIP == "" {
		return fmt.Errorf("own_ip must be set")
	}
	if c.OriginPeerIP == "" || c.OriginPeerPort == 0 {
		return fmt.Errorf("origin_peer_ip and origin_peer_port must be set")
	}
	if c.N == 0 || c.M == 0 || c.K == 0 {
		return fmt.Errorf("protocol constants N, M and K must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("client_timeout must be positive")
	}
	if c.NodeMaxAge <= 0 {
		return fmt.Errorf("node_max_age must be positive")
	}
	if c.LocalSocketPath == "" {
		return fmt.Errorf("local_socket_path must be set")
	}

	var err error
	if c.ownIP, err = parseIPv4(c.OwnIP); err != nil {
		return fmt.Errorf("own_ip: %w", err)
	}
	if c.originIP, err = parseIPv4(c.OriginPeerIP); err != nil {
		return fmt.Errorf("origin_peer_ip: %w", err)
	}
	if c.RadacIP != "" {
		if c.radacIP, err = parseIPv4(c.RadacIP); err != nil {
			return fmt.Errorf("radac_ip: %w", err)
		}
	}

	for c.ClientID == 0 {
		c.ClientID = rand.Uint32()
	}
	return nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("cannot parse %q as an IP address", s)
	}
	return protocol.IPToUint32(ip)
}

// RandomListCap returns the random list capacity, 2N.
func (c *Config) RandomListCap() int {
	return 2 * int(c.N)
}

// ImportantListCap returns the initial important list capacity, M+K.
func (c *Config) ImportantListCap() int {
	return int(c.M) + int(c.K)
}

// OwnNode synthesizes the local node record from the current
// configuration. Own nodes are built at send time and never stored.
func (c *Config) OwnNode(now time.Time) protocol.Node {
	return protocol.Node{
		ID:         c.ClientID,
		Lat:        c.Lat,
		Lon:        c.Lon,
		CoordRange: c.CoordRange,
		IPAddr:     c.ownIP,
		Port:       c.Port,
		RadacIP:    c.radacIP,
		RadacPort:  c.RadacPort,
		Timestamp:  uint32(now.Unix()),
	}
}

// SetPosition updates the runtime-tunable position.
func (c *Config) SetPosition(lat, lon float64) {
	c.Lat = lat
	c.Lon = lon
}

// SetCoordRange updates the runtime-tunable coordination range.
func (c *Config) SetCoordRange(r uint16) {
	c.CoordRange = r
}

// OriginPeer returns the bootstrap peer address in host byte order.
func (c *Config) OriginPeer() (uint32, uint16) {
	return c.originIP, c.OriginPeerPort
}
