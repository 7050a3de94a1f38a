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

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire sizes. A serialized collection is HeaderSize + NodeSize * nodeCount
// bytes, all integers big-endian, doubles as big-endian IEEE-754 bit
// patterns.
const (
	HeaderSize = 5
	NodeSize   = 42
)

// ErrMalformedPayload is returned for any wire data that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// WireSize returns the number of bytes the collection occupies on the wire.
func (nc *NodeCollection) WireSize() int {
	return HeaderSize + NodeSize*len(nc.Nodes)
}

// MarshalBinary serializes the collection into the fixed wire layout.
func (nc *NodeCollection) MarshalBinary() ([]byte, error) {
	if len(nc.Nodes) > MaxNodes {
		return nil, fmt.Errorf("%w: %d nodes exceeds limit of %d", ErrMalformedPayload, len(nc.Nodes), MaxNodes)
	}
	b := make([]byte, nc.WireSize())
	binary.BigEndian.PutUint16(b[0:2], nc.VersionID)
	b[2] = uint8(nc.PayloadType)
	binary.BigEndian.PutUint16(b[3:5], uint16(len(nc.Nodes)))

	o := HeaderSize
	for i := range nc.Nodes {
		n := &nc.Nodes[i]
		binary.BigEndian.PutUint32(b[o:], n.ID)
		binary.BigEndian.PutUint64(b[o+4:], math.Float64bits(n.Lat))
		binary.BigEndian.PutUint64(b[o+12:], math.Float64bits(n.Lon))
		binary.BigEndian.PutUint16(b[o+20:], n.CoordRange)
		binary.BigEndian.PutUint32(b[o+22:], n.IPAddr)
		binary.BigEndian.PutUint16(b[o+26:], n.Port)
		binary.BigEndian.PutUint32(b[o+28:], n.RadacIP)
		binary.BigEndian.PutUint16(b[o+32:], n.RadacPort)
		binary.BigEndian.PutUint32(b[o+34:], n.Timestamp)
		o += NodeSize
	}
	return b, nil
}

// UnmarshalBinary parses the fixed wire layout. Trailing bytes beyond the
// declared node count are ignored.
func (nc *NodeCollection) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedPayload, len(b), HeaderSize)
	}
	nc.VersionID = binary.BigEndian.Uint16(b[0:2])
	nc.PayloadType = PayloadType(b[2])
	count := int(binary.BigEndian.Uint16(b[3:5]))
	if !nc.PayloadType.Valid() {
		return fmt.Errorf("%w: unknown payload type %d", ErrMalformedPayload, uint8(nc.PayloadType))
	}
	if want := HeaderSize + NodeSize*count; len(b) < want {
		return fmt.Errorf("%w: %d nodes need %d bytes, got %d", ErrMalformedPayload, count, want, len(b))
	}

	nc.Nodes = make([]Node, count)
	o := HeaderSize
	for i := 0; i < count; i++ {
		n := &nc.Nodes[i]
		n.ID = binary.BigEndian.Uint32(b[o:])
		n.Lat = math.Float64frombits(binary.BigEndian.Uint64(b[o+4:]))
		n.Lon = math.Float64frombits(binary.BigEndian.Uint64(b[o+12:]))
		n.CoordRange = binary.BigEndian.Uint16(b[o+20:])
		n.IPAddr = binary.BigEndian.Uint32(b[o+22:])
		n.Port = binary.BigEndian.Uint16(b[o+26:])
		n.RadacIP = binary.BigEndian.Uint32(b[o+28:])
		n.RadacPort = binary.BigEndian.Uint16(b[o+32:])
		n.Timestamp = binary.BigEndian.Uint32(b[o+34:])
		o += NodeSize
	}
	return nil
}

// DecodeCollection parses a datagram received from the network. On top of
// plain decoding it rejects collections from a different protocol revision
// and the Internal payload type, which has no business on the wire.
func DecodeCollection(b []byte) (*NodeCollection, error) {
	nc := &NodeCollection{}
	if err := nc.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if nc.VersionID != Version {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrMalformedPayload, nc.VersionID, Version)
	}
	if nc.PayloadType == Internal {
		return nil, fmt.Errorf("%w: internal collection received from the network", ErrMalformedPayload)
	}
	return nc, nil
}
