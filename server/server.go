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

/*
Package server runs the P2P-DPRD node: a single-threaded reactor
multiplexing the UDP gossip socket, the local control socket and a
jittered periodic timer. All list and configuration mutation happens on
the reactor goroutine; the socket readers only ship raw datagrams in.
*/
package server

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MagnusS/p2p-dprd/stats"
	"github.com/MagnusS/p2p-dprd/store"
)

// Server is one P2P-DPRD node.
type Server struct {
	Config *Config
	Stats  stats.Stats

	random    *store.List
	important *store.List
	subs      *SubscriberList

	conn  *net.UDPConn
	local *net.UnixConn

	// send hooks, replaced in tests
	send      func(ip uint32, port uint16, payload []byte) error
	sendLocal func(path string, payload []byte) error
	now       func() time.Time
}

// New returns a server ready to Run.
func New(cfg *Config, st stats.Stats) *Server {
	s := &Server{
		Config:    cfg,
		Stats:     st,
		random:    store.New(cfg.RandomListCap()),
		important: store.New(cfg.ImportantListCap()),
		subs:      NewSubscriberList(DefaultMaxSubscribers),
	}
	s.send = s.sendUDP
	s.sendLocal = sendUnixgram
	s.now = time.Now
	return s
}

// Run binds both sockets and drives the reactor until ctx is cancelled.
// Bind failures are fatal and returned; everything after that is best
// effort.
func (s *Server) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(s.Config.Port)})
	if err != nil {
		return err
	}
	s.conn = conn
	defer conn.Close()
	log.Infof("listening on port %d", s.Config.Port)

	// a stale socket from a previous run would make the bind fail
	if err := os.Remove(s.Config.LocalSocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	local, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: s.Config.LocalSocketPath, Net: "unixgram"})
	if err != nil {
		return err
	}
	s.local = local
	defer func() {
		local.Close()
		os.Remove(s.Config.LocalSocketPath)
	}()
	log.Infof("listening on local socket %s", s.Config.LocalSocketPath)

	netCh := make(chan []byte, 16)
	localCh := make(chan []byte, 16)
	go s.readNetwork(ctx, netCh)
	go s.readLocal(ctx, localCh)

	timer := time.NewTimer(s.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("received signal to shut down, exiting")
			return nil
		case b := <-netCh:
			s.handlePacket(b)
		case b := <-localCh:
			s.handleLocal(b)
		case <-timer.C:
			log.Debug("performing periodic cleanup")
			s.tick()
			s.publishCandidates()
			s.reportGauges()
			timer.Reset(s.tickInterval())
		}
	}
}

// tickInterval is the base timeout plus a uniformly random slice of the
// configured variation, desynchronizing gossip across the network.
func (s *Server) tickInterval() time.Duration {
	d := s.Config.Timeout
	if s.Config.TimeoutVariation > 0 {
		d += time.Duration(rand.Int63n(int64(s.Config.TimeoutVariation)))
	}
	return d
}

func (s *Server) readNetwork(ctx context.Context, out chan<- []byte) {
	buf := make([]byte, recvBufferSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Infof("network receive: %v", err)
			continue
		}
		s.Stats.IncRXPackets()
		s.Stats.AddRXBytes(int64(n))
		b := make([]byte, n)
		copy(b, buf[:n])
		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readLocal(ctx context.Context, out chan<- []byte) {
	buf := make([]byte, 1024)
	for {
		n, _, err := s.local.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Infof("local receive: %v", err)
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) reportGauges() {
	s.Stats.SetRandomNodes(int64(s.random.Len()))
	s.Stats.SetImportantNodes(int64(s.important.Len()))
	s.Stats.SetSubscribers(int64(s.subs.Len()))
}
