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

// Package control implements the wire format of requests arriving on the
// local control socket.
package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// RequestType tags a local control request.
type RequestType uint8

// Local request types. SetPositionAndRange is deprecated and rejected
// on decode.
const (
	SetPosition RequestType = iota
	SetCoordinationRange
	SetPositionAndRange
	Subscribe
	Unsubscribe
)

// MaxAddrLen is the longest accepted subscriber socket path, including
// the NUL terminator.
const MaxAddrLen = 512

// Decode errors.
var (
	ErrMalformedRequest  = errors.New("malformed local request")
	ErrDeprecatedRequest = errors.New("deprecated local request")
)

// String returns a human-readable request type
func (t RequestType) String() string {
	switch t {
	case SetPosition:
		return "SET_POSITION"
	case SetCoordinationRange:
		return "SET_COORDINATION_RANGE"
	case SetPositionAndRange:
		return "SET_POS_AND_RANGE"
	case Subscribe:
		return "SUB_CANDNODES"
	case Unsubscribe:
		return "UNSUB_CANDNODES"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Request is a single decoded control message. Which fields are
// meaningful depends on Type.
type Request struct {
	Type       RequestType
	Lat        float64
	Lon        float64
	CoordRange uint16
	SockAddr   string
}

// MarshalBinary serializes the request the way a local client would send it.
func (r *Request) MarshalBinary() ([]byte, error) {
	b := []byte{uint8(r.Type)}
	switch r.Type {
	case SetPosition:
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(r.Lat))
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(r.Lon))
	case SetCoordinationRange:
		b = binary.BigEndian.AppendUint16(b, r.CoordRange)
	case Subscribe, Unsubscribe:
		if len(r.SockAddr)+1 > MaxAddrLen {
			return nil, fmt.Errorf("%w: socket path longer than %d bytes", ErrMalformedRequest, MaxAddrLen)
		}
		b = append(b, r.SockAddr...)
		b = append(b, 0)
	default:
		return nil, fmt.Errorf("%w: cannot encode request type %s", ErrMalformedRequest, r.Type)
	}
	return b, nil
}

// DecodeRequest parses one datagram from the local control socket. A
// well-formed prefix followed by excess bytes is accepted with a warning.
func DecodeRequest(b []byte) (*Request, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedRequest)
	}
	r := &Request{Type: RequestType(b[0])}
	body := b[1:]
	consumed := 1

	switch r.Type {
	case SetPosition:
		if len(body) < 16 {
			return nil, fmt.Errorf("%w: SET_POSITION needs 16 bytes, got %d", ErrMalformedRequest, len(body))
		}
		r.Lat = math.Float64frombits(binary.BigEndian.Uint64(body[0:8]))
		r.Lon = math.Float64frombits(binary.BigEndian.Uint64(body[8:16]))
		consumed += 16
	case SetCoordinationRange:
		if len(body) < 2 {
			return nil, fmt.Errorf("%w: SET_COORDINATION_RANGE needs 2 bytes, got %d", ErrMalformedRequest, len(body))
		}
		r.CoordRange = binary.BigEndian.Uint16(body[0:2])
		consumed += 2
	case SetPositionAndRange:
		return nil, fmt.Errorf("%w: SET_POS_AND_RANGE", ErrDeprecatedRequest)
	case Subscribe, Unsubscribe:
		addr, n, err := decodeAddr(body)
		if err != nil {
			return nil, err
		}
		r.SockAddr = addr
		consumed += n
	default:
		return nil, fmt.Errorf("%w: unknown request type %d", ErrMalformedRequest, uint8(r.Type))
	}

	if consumed != len(b) {
		log.Warningf("local request size mismatch: decoded %d of %d bytes", consumed, len(b))
	}
	return r, nil
}

// decodeAddr reads a NUL-terminated socket path, returning the path and
// the number of bytes consumed including the terminator.
func decodeAddr(b []byte) (string, int, error) {
	limit := b
	if len(limit) > MaxAddrLen {
		limit = limit[:MaxAddrLen]
	}
	i := bytes.IndexByte(limit, 0)
	if i < 0 {
		if len(b) >= MaxAddrLen {
			return "", 0, fmt.Errorf("%w: socket path longer than %d bytes", ErrMalformedRequest, MaxAddrLen)
		}
		return "", 0, fmt.Errorf("%w: socket path is not NUL-terminated", ErrMalformedRequest)
	}
	if i == 0 {
		return "", 0, fmt.Errorf("%w: empty socket path", ErrMalformedRequest)
	}
	return string(limit[:i]), i + 1, nil
}
