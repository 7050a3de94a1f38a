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
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/MagnusS/p2p-dprd/protocol"
)

// recvBufferSize covers roughly a thousand nodes per datagram.
const recvBufferSize = 32768

// sendUDP delivers one datagram to a peer. A fresh socket per send is
// fine at the few-Hz rate this protocol runs at.
func (s *Server) sendUDP(ip uint32, port uint16, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("tried to send an empty buffer")
	}
	addr := &net.UDPAddr{IP: protocol.IPFromUint32(ip), Port: int(port)}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	n, err := conn.Write(payload)
	if err != nil {
		return fmt.Errorf("sending %d bytes to %s: %w", len(payload), addr, err)
	}
	if n != len(payload) {
		log.Infof("buffer/send mismatch: %d of %d bytes was sent to %s", n, len(payload), addr)
	}
	s.Stats.IncTXPackets()
	s.Stats.AddTXBytes(int64(n))
	log.Debugf("%d bytes was successfully sent to %s", n, addr)
	return nil
}

// sendUnixgram delivers one datagram to a local subscriber socket.
func sendUnixgram(path string, payload []byte) error {
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("sending %d bytes to %s: %w", len(payload), path, err)
	}
	return nil
}
