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

// Package store implements the bounded node lists the gossip protocol
// operates on. Lists are compacted in place: removal operations leave
// live entries in a contiguous prefix, so the invalid-node sentinel never
// lingers inside a list. All methods expect to be called from a single
// goroutine.
package store

import (
	"math/rand"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/MagnusS/p2p-dprd/geo"
	"github.com/MagnusS/p2p-dprd/protocol"
)

// randomDrawAttempts bounds the rejection sampling in the random peer
// selectors.
const randomDrawAttempts = 100

// List is a bounded ordered sequence of nodes.
type List struct {
	nodes  []protocol.Node
	maxLen int
}

// New returns an empty list holding at most maxLen nodes.
func New(maxLen int) *List {
	if maxLen > protocol.MaxNodes {
		maxLen = protocol.MaxNodes
	}
	return &List{nodes: make([]protocol.Node, 0, maxLen), maxLen: maxLen}
}

// Len returns the number of nodes currently in the list.
func (l *List) Len() int {
	return len(l.nodes)
}

// Cap returns the current capacity of the list.
func (l *List) Cap() int {
	return l.maxLen
}

// Nodes returns the live entries. The slice is shared with the list and
// must not be retained across mutations.
func (l *List) Nodes() []protocol.Node {
	return l.nodes
}

// Snapshot returns a copy of the live entries.
func (l *List) Snapshot() []protocol.Node {
	out := make([]protocol.Node, len(l.nodes))
	copy(out, l.nodes)
	return out
}

// Append copies nodes from src in order until the list is full or src is
// exhausted. Entries matching ignoreID are skipped; ignoreID 0 disables
// the filter. Invalid entries (node ID 0) never enter the list.
func (l *List) Append(src []protocol.Node, ignoreID uint32) {
	for i := range src {
		if len(l.nodes) >= l.maxLen {
			return
		}
		if !src[i].Valid() {
			continue
		}
		if ignoreID != 0 && src[i].ID == ignoreID {
			continue
		}
		l.nodes = append(l.nodes, src[i])
	}
}

// Dedupe removes duplicate node IDs, keeping the entry with the greatest
// timestamp. On a timestamp tie the first encountered entry wins. The
// relative order of survivors is preserved.
func (l *List) Dedupe() {
	if len(l.nodes) < 2 {
		return
	}
	best := make(map[uint32]int, len(l.nodes))
	for i := range l.nodes {
		j, seen := best[l.nodes[i].ID]
		if !seen || l.nodes[i].Timestamp > l.nodes[j].Timestamp {
			best[l.nodes[i].ID] = i
		}
	}
	if len(best) == len(l.nodes) {
		return
	}
	w := 0
	for i := range l.nodes {
		if best[l.nodes[i].ID] != i {
			continue
		}
		l.nodes[w] = l.nodes[i]
		w++
	}
	l.nodes = l.nodes[:w]
}

// Expire removes every node whose timestamp is maxAge seconds or more in
// the past. Returns the number of nodes removed.
func (l *List) Expire(now uint32, maxAge uint32) int {
	if maxAge > now {
		return 0
	}
	cutoff := now - maxAge
	w := 0
	for i := range l.nodes {
		if l.nodes[i].Timestamp <= cutoff {
			continue
		}
		l.nodes[w] = l.nodes[i]
		w++
	}
	removed := len(l.nodes) - w
	l.nodes = l.nodes[:w]
	return removed
}

// Trim drops every node at index floor and above. Returns the number of
// nodes removed.
func (l *List) Trim(floor int) int {
	if len(l.nodes) <= floor {
		return 0
	}
	removed := len(l.nodes) - floor
	l.nodes = l.nodes[:floor]
	log.Debugf("%d excess nodes were removed", removed)
	return removed
}

// SortByUtility sorts the list by utility, highest first.
func (l *List) SortByUtility() {
	sort.SliceStable(l.nodes, func(i, j int) bool { return l.nodes[i].Utility > l.nodes[j].Utility })
}

// SortByTimestamp sorts the list by timestamp, newest first.
func (l *List) SortByTimestamp() {
	sort.SliceStable(l.nodes, func(i, j int) bool { return l.nodes[i].Timestamp > l.nodes[j].Timestamp })
}

// SortByNodeID sorts the list by node ID, highest first. Any invalid
// entries (ID 0) end up at the bottom.
func (l *List) SortByNodeID() {
	sort.SliceStable(l.nodes, func(i, j int) bool { return l.nodes[i].ID > l.nodes[j].ID })
}

// Grow enlarges the list capacity by delta nodes, refusing silently at
// the protocol ceiling.
func (l *List) Grow(delta int) {
	if l.maxLen+delta > protocol.MaxNodes {
		log.Errorf("node list reached the max limit of %d nodes", protocol.MaxNodes)
		return
	}
	l.maxLen += delta
	log.Debugf("node list grown by %d to %d nodes", delta, l.maxLen)
}

// ComputeUtility recomputes the utility of every node against ref.
func (l *List) ComputeUtility(ref *protocol.Node) {
	for i := range l.nodes {
		l.nodes[i].Utility = geo.Utility(ref, &l.nodes[i])
	}
}

// Candidates returns a copy of every node with utility >= 1, in list order.
func (l *List) Candidates() []protocol.Node {
	var out []protocol.Node
	for i := range l.nodes {
		if l.nodes[i].Utility >= 1.0 {
			out = append(out, l.nodes[i])
		}
	}
	return out
}

// CountCandidates returns the number of nodes with utility >= 1.
func (l *List) CountCandidates() int {
	count := 0
	for i := range l.nodes {
		if l.nodes[i].Utility >= 1.0 {
			count++
		}
	}
	return count
}

// RandomPeer draws a uniformly random node whose ID differs from ownID.
func (l *List) RandomPeer(ownID uint32) (protocol.Node, bool) {
	return l.draw(len(l.nodes), ownID)
}

// RandomImportantPeer draws a random node from the utility-sorted list,
// preferring the candidate region at the top. With fewer than 10 nodes
// the whole list is eligible; with fewer than 10 candidates the draw is
// taken from the top slots; otherwise from the candidate region.
func (l *List) RandomImportantPeer(ownID uint32) (protocol.Node, bool) {
	n := len(l.nodes)
	var drawRange int
	switch {
	case n < 10:
		drawRange = n
	case l.CountCandidates() < 10:
		drawRange = 9
	default:
		drawRange = l.CountCandidates()
	}
	if drawRange > n {
		drawRange = n
	}
	return l.draw(drawRange, ownID)
}

// draw rejection-samples the first drawRange entries for a node that is
// not our own, giving up after a bounded number of attempts.
func (l *List) draw(drawRange int, ownID uint32) (protocol.Node, bool) {
	switch {
	case drawRange <= 0:
		return protocol.Node{}, false
	case drawRange == 1:
		if l.nodes[0].ID != ownID {
			return l.nodes[0], true
		}
		return protocol.Node{}, false
	}
	for i := 0; i < randomDrawAttempts; i++ {
		r := rand.Intn(drawRange)
		if l.nodes[r].ID != ownID {
			log.Debugf("chose a random node with ID: %d", l.nodes[r].ID)
			return l.nodes[r], true
		}
	}
	return protocol.Node{}, false
}
