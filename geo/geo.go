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

// Package geo provides the great-circle distance approximation and the
// node utility function built on top of it.
package geo

import (
	"math"

	"github.com/MagnusS/p2p-dprd/protocol"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371008.7714

const toRad = math.Pi / 180

// Distance returns the distance in meters between two positions given in
// degrees, using the haversine approximation on a spherical earth. The
// result is bit-identical when the two positions are swapped.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	// evaluate with the points in a fixed order so rounding cannot
	// depend on which one was passed first
	if lat1 > lat2 || (lat1 == lat2 && lon1 > lon2) {
		lat1, lon1, lat2, lon2 = lat2, lon2, lat1, lon1
	}
	dLon := (lon1 - lon2) * toRad
	lat1 *= toRad
	lat2 *= toRad

	dz := math.Sin(lat1) - math.Sin(lat2)
	dx := math.Cos(dLon)*math.Cos(lat1) - math.Cos(lat2)
	dy := math.Sin(dLon) * math.Cos(lat1)
	return math.Asin(math.Sqrt(dx*dx+dy*dy+dz*dz)/2) * 2 * EarthRadius
}

// Utility classifies node b against node a as the ratio of the squared
// sum of coordination ranges to the squared distance. Co-located nodes
// have infinite utility. A node with utility >= 1 is a candidate: the
// coordination spheres overlap.
func Utility(a, b *protocol.Node) float64 {
	d := Distance(a.Lat, a.Lon, b.Lat, b.Lon)
	d2 := d * d
	if d2 == 0 {
		return math.Inf(1)
	}
	cr := float64(a.CoordRange) + float64(b.CoordRange)
	return cr * cr / d2
}
