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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnusS/p2p-dprd/protocol"
	"github.com/MagnusS/p2p-dprd/stats"
)

// one degree of latitude in meters on the reference sphere
const degLat = 6371008.7714 * math.Pi / 180

type sentPacket struct {
	ip      uint32
	port    uint16
	payload []byte
}

func testServer(t *testing.T) (*Server, *[]sentPacket) {
	cfg := DefaultConfig()
	cfg.ClientID = 100
	cfg.OwnIP = "192.168.0.10"
	cfg.Port = 45541
	cfg.OriginPeerIP = "10.0.0.1"
	cfg.OriginPeerPort = 45540
	require.NoError(t, cfg.Validate())

	s := New(cfg, stats.NoopStats{})
	sent := &[]sentPacket{}
	s.send = func(ip uint32, port uint16, payload []byte) error {
		*sent = append(*sent, sentPacket{ip: ip, port: port, payload: payload})
		return nil
	}
	s.sendLocal = func(_ string, _ []byte) error { return nil }
	return s, sent
}

func peerNode(id uint32, ts uint32) protocol.Node {
	return protocol.Node{
		ID:         id,
		Lat:        DefaultLat,
		Lon:        DefaultLon,
		CoordRange: 10,
		IPAddr:     0x0a000000 + id,
		Port:       45541,
		Timestamp:  ts,
	}
}

func decode(t *testing.T, p sentPacket) *protocol.NodeCollection {
	nc := &protocol.NodeCollection{}
	require.NoError(t, nc.UnmarshalBinary(p.payload))
	return nc
}

func TestTickBootstrapsWithEmptyRandomList(t *testing.T) {
	s, sent := testServer(t)
	s.tick()

	require.Equal(t, 1, len(*sent))
	p := (*sent)[0]
	originIP, originPort := s.Config.OriginPeer()
	assert.Equal(t, originIP, p.ip)
	assert.Equal(t, originPort, p.port)
	assert.Equal(t, 47, len(p.payload))

	nc := decode(t, p)
	assert.Equal(t, protocol.RandomRequest, nc.PayloadType)
	require.Equal(t, 1, len(nc.Nodes))
	assert.Equal(t, uint32(100), nc.Nodes[0].ID)
	assert.Equal(t, DefaultLat, nc.Nodes[0].Lat)
}

func TestReceiveRandomRequest(t *testing.T) {
	s, sent := testServer(t)
	now := uint32(time.Now().Unix())

	in := protocol.NewCollection(protocol.RandomRequest, 1)
	in.Nodes = append(in.Nodes, peerNode(7, now))
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	s.handlePacket(b)

	// the reply carries the merged random list with our own node on top
	require.Equal(t, 1, len(*sent))
	p := (*sent)[0]
	assert.Equal(t, uint32(0x0a000007), p.ip)

	nc := decode(t, p)
	assert.Equal(t, protocol.RandomNoRequest, nc.PayloadType)
	require.Equal(t, 2, len(nc.Nodes))
	assert.Equal(t, uint32(100), nc.Nodes[0].ID)
	assert.Equal(t, uint32(7), nc.Nodes[1].ID)

	// the lists end up holding just the peer
	require.Equal(t, 1, s.random.Len())
	assert.Equal(t, uint32(7), s.random.Nodes()[0].ID)
	require.Equal(t, 1, s.important.Len())
	assert.Equal(t, uint32(7), s.important.Nodes()[0].ID)
	assert.True(t, math.IsInf(s.important.Nodes()[0].Utility, 1))
}

func TestReceiveImportantClassifiesCandidates(t *testing.T) {
	s, sent := testServer(t)
	now := uint32(time.Now().Unix())

	near := peerNode(21, now)
	near.Lat += 5 / degLat
	far := peerNode(22, now)
	far.Lat += 10000 / degLat

	in := protocol.NewCollection(protocol.ImportantNoRequest, 2)
	in.Nodes = append(in.Nodes, near, far)
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	s.handlePacket(b)

	assert.Equal(t, 0, len(*sent))
	require.Equal(t, 2, s.important.Len())
	cands := s.important.Candidates()
	require.Equal(t, 1, len(cands))
	assert.Equal(t, uint32(21), cands[0].ID)
	assert.InEpsilon(t, 16.0, cands[0].Utility, 0.01)
}

func TestReceiveImportantRequestRepliesFirst(t *testing.T) {
	s, sent := testServer(t)
	now := uint32(time.Now().Unix())

	in := protocol.NewCollection(protocol.ImportantRequest, 1)
	in.Nodes = append(in.Nodes, peerNode(7, now))
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	s.handlePacket(b)

	require.Equal(t, 1, len(*sent))
	nc := decode(t, (*sent)[0])
	assert.Equal(t, protocol.ImportantNoRequest, nc.PayloadType)
	// the reply went out before the merge, so it only carries our own node
	require.Equal(t, 1, len(nc.Nodes))
	assert.Equal(t, uint32(100), nc.Nodes[0].ID)

	require.Equal(t, 1, s.important.Len())
	assert.Equal(t, uint32(7), s.important.Nodes()[0].ID)
}

func TestTickExpiresOldNodes(t *testing.T) {
	s, sent := testServer(t)
	now := uint32(time.Now().Unix())

	old := make([]protocol.Node, 0, 5)
	for i := uint32(1); i <= 5; i++ {
		old = append(old, peerNode(i, now-11000))
	}
	s.random.Append(old, 0)
	s.important.Append(old, 0)

	s.tick()

	assert.Equal(t, 0, s.random.Len())
	assert.Equal(t, 0, s.important.Len())
	// with everything expired the tick falls back to bootstrap
	require.Equal(t, 1, len(*sent))
	nc := decode(t, (*sent)[0])
	assert.Equal(t, protocol.RandomRequest, nc.PayloadType)
}

func TestDuplicateNodeNewerWins(t *testing.T) {
	s, _ := testServer(t)
	now := uint32(time.Now().Unix())

	s.random.Append([]protocol.Node{peerNode(9, now-1000)}, 0)

	in := protocol.NewCollection(protocol.RandomNoRequest, 1)
	in.Nodes = append(in.Nodes, peerNode(9, now))
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	s.handlePacket(b)

	require.Equal(t, 1, s.random.Len())
	assert.Equal(t, uint32(9), s.random.Nodes()[0].ID)
	assert.Equal(t, now, s.random.Nodes()[0].Timestamp)
}

func TestOwnNodeNeverEntersLists(t *testing.T) {
	s, _ := testServer(t)
	now := uint32(time.Now().Unix())

	in := protocol.NewCollection(protocol.RandomNoRequest, 3)
	in.Nodes = append(in.Nodes, peerNode(7, now), peerNode(100, now), peerNode(8, now))
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	s.handlePacket(b)
	s.tick()

	for _, n := range s.random.Nodes() {
		assert.NotEqual(t, uint32(100), n.ID)
	}
	for _, n := range s.important.Nodes() {
		assert.NotEqual(t, uint32(100), n.ID)
	}
}

func TestCapacityInvariant(t *testing.T) {
	s, _ := testServer(t)
	now := uint32(time.Now().Unix())

	for round := uint32(0); round < 5; round++ {
		in := protocol.NewCollection(protocol.RandomNoRequest, 30)
		for i := uint32(1); i <= 30; i++ {
			in.Nodes = append(in.Nodes, peerNode(1000+round*100+i, now))
		}
		b, err := in.MarshalBinary()
		require.NoError(t, err)
		s.handlePacket(b)

		assert.LessOrEqual(t, s.random.Len(), s.Config.RandomListCap())
		assert.LessOrEqual(t, s.important.Len(), s.important.Cap())
		assert.LessOrEqual(t, s.important.Cap(), protocol.MaxNodes)
	}
	// the random list is trimmed down to N after every update
	assert.LessOrEqual(t, s.random.Len(), int(s.Config.N))
}

func TestMalformedPayloadDiscarded(t *testing.T) {
	s, sent := testServer(t)

	s.handlePacket([]byte{0, 1, 2})
	s.handlePacket(nil)

	// an empty collection has no sender identity and is dropped
	empty := protocol.NewCollection(protocol.RandomRequest, 0)
	b, err := empty.MarshalBinary()
	require.NoError(t, err)
	s.handlePacket(b)

	assert.Equal(t, 0, len(*sent))
	assert.Equal(t, 0, s.random.Len())
}

func TestSendImportantTrimsToK(t *testing.T) {
	s, sent := testServer(t)
	now := uint32(time.Now().Unix())

	many := make([]protocol.Node, 0, 20)
	for i := uint32(1); i <= 20; i++ {
		many = append(many, peerNode(200+i, now))
	}
	s.important.Append(many, 0)

	s.sendImportant(protocol.ImportantRequest, peerNode(7, now))

	require.Equal(t, 1, len(*sent))
	nc := decode(t, (*sent)[0])
	// own node plus at most K peers
	assert.Equal(t, int(s.Config.K)+1, len(nc.Nodes))
	assert.Equal(t, uint32(100), nc.Nodes[0].ID)
}
