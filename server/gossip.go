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
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/MagnusS/p2p-dprd/geo"
	"github.com/MagnusS/p2p-dprd/protocol"
)

// handlePacket dispatches one datagram received from the network. The
// sender identity is the first node of the collection, not the UDP
// source address. Best effort: malformed data is logged and dropped.
func (s *Server) handlePacket(b []byte) {
	nc, err := protocol.DecodeCollection(b)
	if err != nil {
		s.Stats.IncMalformed()
		log.Warningf("discarding datagram: %v", err)
		return
	}
	sender, ok := nc.Sender()
	if !ok {
		log.Debug("discarding empty collection")
		return
	}
	log.Debugf("received %s with %d nodes from %d", nc.PayloadType, len(nc.Nodes), sender.ID)

	switch nc.PayloadType {
	case protocol.RandomNoRequest:
		s.updateRandom(nc.Nodes)
		s.updateImportant(s.random.Nodes())
	case protocol.RandomRequest:
		s.updateRandom(nc.Nodes)
		s.sendRandom(protocol.RandomNoRequest, sender)
		s.updateImportant(s.random.Nodes())
	case protocol.ImportantNoRequest:
		s.updateImportant(nc.Nodes)
	case protocol.ImportantRequest:
		s.sendImportant(protocol.ImportantNoRequest, sender)
		s.updateImportant(nc.Nodes)
	default:
		s.Stats.IncMalformed()
		log.Warningf("discarding collection of type %s", nc.PayloadType)
	}
}

// updateRandom merges received nodes into the random list: append with
// the own ID filtered, dedupe, newest first, keep the newest half.
func (s *Server) updateRandom(nodes []protocol.Node) {
	s.random.Append(nodes, s.Config.ClientID)
	s.random.Dedupe()
	s.random.SortByTimestamp()
	s.random.Trim(s.random.Cap() / 2)
}

// updateImportant merges received nodes into the important list. The
// incoming nodes are classified against a fresh own node, then the list
// is deduped, ranked by utility and bounded: it grows by K while the
// candidate region approaches capacity, up to the protocol ceiling.
func (s *Server) updateImportant(nodes []protocol.Node) {
	own := s.Config.OwnNode(s.now())
	incoming := make([]protocol.Node, len(nodes))
	copy(incoming, nodes)
	for i := range incoming {
		incoming[i].Utility = geo.Utility(&own, &incoming[i])
	}

	s.important.Append(incoming, s.Config.ClientID)
	s.important.Dedupe()
	s.important.SortByUtility()

	k := int(s.Config.K)
	candidates := s.important.CountCandidates()
	if candidates > s.important.Cap()-k {
		s.important.Grow(k)
	}
	if s.important.Len() > s.important.Cap()-k {
		s.important.Trim(s.important.Cap() - k)
	}
	log.Debugf("counted %d candidate nodes from %d important nodes", candidates, s.important.Len())
}

// tick ages both lists and gossips with one random peer from each.
// With an empty random list the bootstrap peer is contacted instead.
func (s *Server) tick() {
	s.Stats.IncTicks()
	now := uint32(s.now().Unix())
	maxAge := uint32(s.Config.NodeMaxAge.Seconds())

	if removed := s.random.Expire(now, maxAge); removed > 0 {
		log.Debugf("%d nodes in the random list met the age limit and were discarded", removed)
	}
	if removed := s.important.Expire(now, maxAge); removed > 0 {
		log.Debugf("%d nodes in the important list met the age limit and were discarded", removed)
	}
	s.important.SortByUtility()

	if peer, ok := s.random.RandomPeer(s.Config.ClientID); ok {
		s.sendRandom(protocol.RandomRequest, peer)
	} else {
		s.bootstrap()
	}
	if peer, ok := s.important.RandomImportantPeer(s.Config.ClientID); ok {
		s.sendImportant(protocol.ImportantRequest, peer)
	}
}

// bootstrap introduces this node to the configured origin peer with a
// one-node random list request.
func (s *Server) bootstrap() {
	ip, port := s.Config.OriginPeer()
	nc := protocol.NewCollection(protocol.RandomRequest, 1)
	nc.Nodes = append(nc.Nodes, s.Config.OwnNode(s.now()))
	s.Stats.IncBootstraps()
	s.sendCollection(nc, ip, port)
	log.Debugf("sent own node to origin peer on port %d", port)
}

// sendRandom sends the random list to a peer with the own node on top.
func (s *Server) sendRandom(t protocol.PayloadType, peer protocol.Node) {
	nc := protocol.NewCollection(t, s.random.Len()+1)
	nc.Nodes = append(nc.Nodes, s.Config.OwnNode(s.now()))
	nc.Nodes = append(nc.Nodes, s.random.Snapshot()...)
	s.sendCollection(nc, peer.IPAddr, peer.Port)
	log.Debugf("sent random list to peer %d", peer.ID)
}

// sendImportant sends the important list to a peer with the own node on
// top. A list longer than K is re-ranked from the receiver's point of
// view and cut down to the K most useful nodes.
func (s *Server) sendImportant(t protocol.PayloadType, peer protocol.Node) {
	nodes := s.important.Snapshot()
	if k := int(s.Config.K); len(nodes) > k {
		for i := range nodes {
			nodes[i].Utility = geo.Utility(&peer, &nodes[i])
		}
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Utility > nodes[j].Utility })
		nodes = nodes[:k]
	}

	nc := protocol.NewCollection(t, len(nodes)+1)
	nc.Nodes = append(nc.Nodes, s.Config.OwnNode(s.now()))
	nc.Nodes = append(nc.Nodes, nodes...)
	s.sendCollection(nc, peer.IPAddr, peer.Port)
	log.Debugf("sent important list to peer %d", peer.ID)
}

// sendCollection packs and delivers one collection. Send failures are
// logged and swallowed: a lost datagram never stops the reactor.
func (s *Server) sendCollection(nc *protocol.NodeCollection, ip uint32, port uint16) {
	b, err := nc.MarshalBinary()
	if err != nil {
		log.Errorf("packing %s collection: %v", nc.PayloadType, err)
		return
	}
	if err := s.send(ip, port, b); err != nil {
		log.Infof("sending %s collection: %v", nc.PayloadType, err)
	}
}
