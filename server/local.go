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
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/MagnusS/p2p-dprd/protocol"
	"github.com/MagnusS/p2p-dprd/protocol/control"
)

// handleLocal decodes and applies one control request from the local
// socket.
func (s *Server) handleLocal(b []byte) {
	r, err := control.DecodeRequest(b)
	if err != nil {
		if errors.Is(err, control.ErrDeprecatedRequest) {
			log.Warningf("ignoring local request: %v", err)
		} else {
			s.Stats.IncMalformed()
			log.Warningf("discarding local request: %v", err)
		}
		return
	}
	s.Stats.IncLocalRequests()

	switch r.Type {
	case control.SetPosition:
		s.Config.SetPosition(r.Lat, r.Lon)
		log.Infof("position updated to %f, %f", r.Lat, r.Lon)
	case control.SetCoordinationRange:
		s.Config.SetCoordRange(r.CoordRange)
		log.Infof("coordination range updated to %d m", r.CoordRange)
	case control.Subscribe:
		switch err := s.subs.Add(r.SockAddr); {
		case err == nil:
			log.Infof("socket %s has been subscribed to the candidate nodes service", r.SockAddr)
		case errors.Is(err, ErrAlreadySubscribed):
			log.Infof("socket %s is already subscribed", r.SockAddr)
		default:
			log.Warningf("subscription of %s was denied: %v", r.SockAddr, err)
		}
		s.Stats.SetSubscribers(int64(s.subs.Len()))
	case control.Unsubscribe:
		if err := s.subs.Remove(r.SockAddr); err != nil {
			log.Infof("cannot unsubscribe %s: %v", r.SockAddr, err)
		} else {
			log.Infof("subscriber on %s was removed from the subscription list", r.SockAddr)
		}
		s.Stats.SetSubscribers(int64(s.subs.Len()))
	}
}

// publishCandidates fans the current candidate set out to every
// subscriber. The collection starts with the own node, is packed once
// and delivered to each socket path independently: one broken
// subscriber never affects the others.
func (s *Server) publishCandidates() {
	if s.subs.Len() == 0 {
		return
	}
	candidates := s.important.Candidates()
	s.Stats.SetCandidates(int64(len(candidates)))

	nc := protocol.NewCollection(protocol.Internal, len(candidates)+1)
	nc.Nodes = append(nc.Nodes, s.Config.OwnNode(s.now()))
	nc.Nodes = append(nc.Nodes, candidates...)

	b, err := nc.MarshalBinary()
	if err != nil {
		log.Errorf("packing candidate collection: %v", err)
		return
	}
	for _, path := range s.subs.Paths() {
		if err := s.sendLocal(path, b); err != nil {
			log.Infof("delivering candidate nodes: %v", err)
			continue
		}
		log.Debugf("delivered %d bytes on socket %s", len(b), path)
	}
	s.Stats.IncPublished()
}
