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

package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// JSONStats implements the Stats interface and reports the counters as a
// flat JSON map over HTTP. It is passive: only Start needs to be called.
type JSONStats struct {
	rxPackets      int64
	txPackets      int64
	rxBytes        int64
	txBytes        int64
	malformed      int64
	ticks          int64
	bootstraps     int64
	localRequests  int64
	published      int64
	subscribers    int64
	candidates     int64
	randomNodes    int64
	importantNodes int64

	prefix string
}

// NewJSONStats returns a JSONStats with the default metric prefix.
func NewJSONStats() *JSONStats {
	return &JSONStats{prefix: "p2pdprd."}
}

// SetPrefix overrides the prefix added to every counter name.
func (j *JSONStats) SetPrefix(prefix string) {
	j.prefix = prefix
}

// Counters returns a snapshot of all counters.
func (j *JSONStats) Counters() map[string]int64 {
	export := make(map[string]int64)

	export[j.prefix+"rx.packets"] = atomic.LoadInt64(&j.rxPackets)
	export[j.prefix+"tx.packets"] = atomic.LoadInt64(&j.txPackets)
	export[j.prefix+"rx.bytes"] = atomic.LoadInt64(&j.rxBytes)
	export[j.prefix+"tx.bytes"] = atomic.LoadInt64(&j.txBytes)
	export[j.prefix+"rx.malformed"] = atomic.LoadInt64(&j.malformed)
	export[j.prefix+"ticks"] = atomic.LoadInt64(&j.ticks)
	export[j.prefix+"bootstraps"] = atomic.LoadInt64(&j.bootstraps)
	export[j.prefix+"local.requests"] = atomic.LoadInt64(&j.localRequests)
	export[j.prefix+"local.published"] = atomic.LoadInt64(&j.published)
	export[j.prefix+"subscribers"] = atomic.LoadInt64(&j.subscribers)
	export[j.prefix+"nodes.candidates"] = atomic.LoadInt64(&j.candidates)
	export[j.prefix+"nodes.random"] = atomic.LoadInt64(&j.randomNodes)
	export[j.prefix+"nodes.important"] = atomic.LoadInt64(&j.importantNodes)

	return export
}

func (j *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(j.Counters())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

// Start serves the counters on the given port. Blocks forever.
func (j *JSONStats) Start(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", j.handleRequest)
	addr := fmt.Sprintf(":%d", port)
	log.Debugf("starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("monitoring server: %v", err)
	}
}

// IncRXPackets is implementing Stats
func (j *JSONStats) IncRXPackets() {
	atomic.AddInt64(&j.rxPackets, 1)
}

// IncTXPackets is implementing Stats
func (j *JSONStats) IncTXPackets() {
	atomic.AddInt64(&j.txPackets, 1)
}

// AddRXBytes is implementing Stats
func (j *JSONStats) AddRXBytes(n int64) {
	atomic.AddInt64(&j.rxBytes, n)
}

// AddTXBytes is implementing Stats
func (j *JSONStats) AddTXBytes(n int64) {
	atomic.AddInt64(&j.txBytes, n)
}

// IncMalformed is implementing Stats
func (j *JSONStats) IncMalformed() {
	atomic.AddInt64(&j.malformed, 1)
}

// IncTicks is implementing Stats
func (j *JSONStats) IncTicks() {
	atomic.AddInt64(&j.ticks, 1)
}

// IncBootstraps is implementing Stats
func (j *JSONStats) IncBootstraps() {
	atomic.AddInt64(&j.bootstraps, 1)
}

// IncLocalRequests is implementing Stats
func (j *JSONStats) IncLocalRequests() {
	atomic.AddInt64(&j.localRequests, 1)
}

// IncPublished is implementing Stats
func (j *JSONStats) IncPublished() {
	atomic.AddInt64(&j.published, 1)
}

// SetSubscribers is implementing Stats
func (j *JSONStats) SetSubscribers(n int64) {
	atomic.StoreInt64(&j.subscribers, n)
}

// SetCandidates is implementing Stats
func (j *JSONStats) SetCandidates(n int64) {
	atomic.StoreInt64(&j.candidates, n)
}

// SetRandomNodes is implementing Stats
func (j *JSONStats) SetRandomNodes(n int64) {
	atomic.StoreInt64(&j.randomNodes, n)
}

// SetImportantNodes is implementing Stats
func (j *JSONStats) SetImportantNodes(n int64) {
	atomic.StoreInt64(&j.importantNodes, n)
}
