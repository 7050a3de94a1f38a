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

// Package stats collects counters from the running service and exposes
// them to monitoring.
package stats

// Stats is a metric collection interface. The service reports everything
// through it; implementations decide how the numbers leave the process.
type Stats interface {
	// IncRXPackets atomically adds 1 to the received packet counter
	IncRXPackets()
	// IncTXPackets atomically adds 1 to the sent packet counter
	IncTXPackets()
	// AddRXBytes atomically adds n to the received byte counter
	AddRXBytes(n int64)
	// AddTXBytes atomically adds n to the sent byte counter
	AddTXBytes(n int64)
	// IncMalformed atomically adds 1 to the malformed payload counter
	IncMalformed()
	// IncTicks atomically adds 1 to the periodic tick counter
	IncTicks()
	// IncBootstraps atomically adds 1 to the bootstrap counter
	IncBootstraps()
	// IncLocalRequests atomically adds 1 to the local request counter
	IncLocalRequests()
	// IncPublished atomically adds 1 to the candidate fan-out counter
	IncPublished()
	// SetSubscribers sets the current subscriber gauge
	SetSubscribers(n int64)
	// SetCandidates sets the current candidate node gauge
	SetCandidates(n int64)
	// SetRandomNodes sets the current random list length gauge
	SetRandomNodes(n int64)
	// SetImportantNodes sets the current important list length gauge
	SetImportantNodes(n int64)
}

// NoopStats discards every report. Useful in tests.
type NoopStats struct{}

// IncRXPackets is implementing Stats
func (NoopStats) IncRXPackets() {}

// IncTXPackets is implementing Stats
func (NoopStats) IncTXPackets() {}

// AddRXBytes is implementing Stats
func (NoopStats) AddRXBytes(_ int64) {}

// AddTXBytes is implementing Stats
func (NoopStats) AddTXBytes(_ int64) {}

// IncMalformed is implementing Stats
func (NoopStats) IncMalformed() {}

// IncTicks is implementing Stats
func (NoopStats) IncTicks() {}

// IncBootstraps is implementing Stats
func (NoopStats) IncBootstraps() {}

// IncLocalRequests is implementing Stats
func (NoopStats) IncLocalRequests() {}

// IncPublished is implementing Stats
func (NoopStats) IncPublished() {}

// SetSubscribers is implementing Stats
func (NoopStats) SetSubscribers(_ int64) {}

// SetCandidates is implementing Stats
func (NoopStats) SetCandidates(_ int64) {}

// SetRandomNodes is implementing Stats
func (NoopStats) SetRandomNodes(_ int64) {}

// SetImportantNodes is implementing Stats
func (NoopStats) SetImportantNodes(_ int64) {}
