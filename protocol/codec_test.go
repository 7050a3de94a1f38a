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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(id uint32) Node {
	return Node{
		ID:         id,
		Lat:        59.921161,
		Lon:        10.733608,
		CoordRange: 10,
		IPAddr:     0xc0a8000a, // 192.168.0.10
		Port:       45541,
		RadacIP:    0x7f000001,
		RadacPort:  45542,
		Timestamp:  1400000000,
	}
}

func TestCollectionRoundTrip(t *testing.T) {
	nc := NewCollection(RandomRequest, 3)
	for i := uint32(1); i <= 3; i++ {
		n := testNode(i)
		n.Lat += float64(i) * 0.000001
		n.Lon -= float64(i) * 0.000001
		nc.Nodes = append(nc.Nodes, n)
	}

	b, err := nc.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, HeaderSize+3*NodeSize, len(b))

	got := &NodeCollection{}
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, Version, got.VersionID)
	assert.Equal(t, RandomRequest, got.PayloadType)
	require.Equal(t, 3, len(got.Nodes))
	for i := range nc.Nodes {
		want := nc.Nodes[i]
		want.Utility = 0
		assert.Equal(t, want, got.Nodes[i])
		// bit-exact doubles
		assert.Equal(t, math.Float64bits(nc.Nodes[i].Lat), math.Float64bits(got.Nodes[i].Lat))
		assert.Equal(t, math.Float64bits(nc.Nodes[i].Lon), math.Float64bits(got.Nodes[i].Lon))
	}
}

func TestCollectionWireSize(t *testing.T) {
	for _, count := range []int{0, 1, 10, 1000} {
		nc := NewCollection(ImportantNoRequest, count)
		for i := 0; i < count; i++ {
			nc.Nodes = append(nc.Nodes, testNode(uint32(i+1)))
		}
		b, err := nc.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, 5+42*count, len(b))
		assert.Equal(t, nc.WireSize(), len(b))
	}
}

func TestCollectionUtilityNotOnWire(t *testing.T) {
	nc := NewCollection(RandomNoRequest, 1)
	n := testNode(1)
	n.Utility = 42.0
	nc.Nodes = append(nc.Nodes, n)

	b, err := nc.MarshalBinary()
	require.NoError(t, err)
	got := &NodeCollection{}
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, 0.0, got.Nodes[0].Utility)
}

func TestCollectionHeaderLayout(t *testing.T) {
	nc := NewCollection(ImportantRequest, 1)
	nc.Nodes = append(nc.Nodes, testNode(7))
	b, err := nc.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[0:2]))
	assert.Equal(t, uint8(3), b[2])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[3:5]))
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(b[5:9]))
	// IP bytes read as the dotted quad in natural order
	assert.Equal(t, []byte{192, 168, 0, 10}, b[27:31])
}

func TestUnmarshalErrors(t *testing.T) {
	nc := NewCollection(RandomNoRequest, 1)
	nc.Nodes = append(nc.Nodes, testNode(1))
	good, err := nc.MarshalBinary()
	require.NoError(t, err)

	t.Run("short header", func(t *testing.T) {
		got := &NodeCollection{}
		err := got.UnmarshalBinary(good[:3])
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("truncated body", func(t *testing.T) {
		got := &NodeCollection{}
		err := got.UnmarshalBinary(good[:len(good)-1])
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("node count larger than buffer", func(t *testing.T) {
		bad := append([]byte{}, good...)
		binary.BigEndian.PutUint16(bad[3:5], 1000)
		got := &NodeCollection{}
		err := got.UnmarshalBinary(bad)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("unknown payload type", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[2] = 99
		got := &NodeCollection{}
		err := got.UnmarshalBinary(bad)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("trailing bytes accepted", func(t *testing.T) {
		got := &NodeCollection{}
		err := got.UnmarshalBinary(append(append([]byte{}, good...), 0xde, 0xad))
		require.NoError(t, err)
		assert.Equal(t, 1, len(got.Nodes))
	})
}

func TestDecodeCollection(t *testing.T) {
	t.Run("internal type rejected from the wire", func(t *testing.T) {
		nc := NewCollection(Internal, 1)
		nc.Nodes = append(nc.Nodes, testNode(1))
		b, err := nc.MarshalBinary()
		require.NoError(t, err)
		_, err = DecodeCollection(b)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("wrong version rejected", func(t *testing.T) {
		nc := NewCollection(RandomNoRequest, 1)
		nc.VersionID = 2
		nc.Nodes = append(nc.Nodes, testNode(1))
		b, err := nc.MarshalBinary()
		require.NoError(t, err)
		_, err = DecodeCollection(b)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("valid", func(t *testing.T) {
		nc := NewCollection(ImportantRequest, 1)
		nc.Nodes = append(nc.Nodes, testNode(9))
		b, err := nc.MarshalBinary()
		require.NoError(t, err)
		got, err := DecodeCollection(b)
		require.NoError(t, err)
		sender, ok := got.Sender()
		require.True(t, ok)
		assert.Equal(t, uint32(9), sender.ID)
	})
}

func TestIPConversion(t *testing.T) {
	ip := IPFromUint32(0xc0a8000a)
	assert.Equal(t, "192.168.0.10", ip.String())

	v, err := IPToUint32(ip)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xc0a8000a), v)

	_, err = IPToUint32([]byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	require.Error(t, err)
}
