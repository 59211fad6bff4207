// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package gasshim

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aristanetworks/goarista/monotime"
	"github.com/dustin/go-humanize"
)

// Stats is a point in time snapshot of the shim counters.
type Stats struct {
	Enabled bool
	Rank    int

	GlobalAllocs  uint64 // blocks handed out from the global allocator
	GlobalFrees   uint64 // global blocks released, strays included
	Exhausted     uint64 // global allocator returned NilGA
	Strays        uint64 // out of range GAs released right after allocation
	SystemAllocs  uint64
	SystemFrees   uint64
	SystemResizes uint64
	InPlace       uint64 // resizes of global blocks that kept the pointer
	Moved         uint64 // resizes of global blocks that moved the data
	BytesCopied   uint64

	// Uptime is the time elapsed since the last successful Initialize.
	Uptime time.Duration
}

type counters struct {
	globalAllocs  atomic.Uint64
	globalFrees   atomic.Uint64
	exhausted     atomic.Uint64
	strays        atomic.Uint64
	systemAllocs  atomic.Uint64
	systemFrees   atomic.Uint64
	systemResizes atomic.Uint64
	inPlace       atomic.Uint64
	moved         atomic.Uint64
	bytesCopied   atomic.Uint64
}

// Stats returns the current counters of s.
func (s *Shim) Stats() Stats {
	st := Stats{
		Enabled:       s.enabled.Load(),
		Rank:          -1,
		GlobalAllocs:  s.c.globalAllocs.Load(),
		GlobalFrees:   s.c.globalFrees.Load(),
		Exhausted:     s.c.exhausted.Load(),
		Strays:        s.c.strays.Load(),
		SystemAllocs:  s.c.systemAllocs.Load(),
		SystemFrees:   s.c.systemFrees.Load(),
		SystemResizes: s.c.systemResizes.Load(),
		InPlace:       s.c.inPlace.Load(),
		Moved:         s.c.moved.Load(),
		BytesCopied:   s.c.bytesCopied.Load(),
	}
	if b := s.boot.Load(); b != nil {
		st.Rank = b.rank
		st.Uptime = time.Duration(monotime.Now() - b.started)
	}
	return st
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.Enabled),
		slog.Int("rank", s.Rank),
		slog.Uint64("global_allocs", s.GlobalAllocs),
		slog.Uint64("global_frees", s.GlobalFrees),
		slog.Uint64("exhausted", s.Exhausted),
		slog.Uint64("strays", s.Strays),
		slog.Uint64("system_allocs", s.SystemAllocs),
		slog.Uint64("system_frees", s.SystemFrees),
		slog.Uint64("system_resizes", s.SystemResizes),
		slog.Uint64("in_place", s.InPlace),
		slog.Uint64("moved", s.Moved),
		slog.String("copied", humanize.IBytes(s.BytesCopied)),
	)
}
