// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package ownership

import (
	"sync"
	"time"

	"github.com/sharedraw/sharedraw/membership"
	"github.com/sharedraw/sharedraw/wire"
)

// Broadcaster is the subset of the peer pool the ownership manager
// needs: sending a message to every active peer except one excluded
// client id.
type Broadcaster interface {
	Broadcast(msg wire.Message, excludeID string)
}

// Enqueuer lets the auto-resign timer hand the actual state
// transition back to the controller goroutine instead of mutating
// shared state from the timer's own goroutine.
type Enqueuer interface {
	Enqueue(msg wire.SignedMessage)
}

// Manager implements the token plus Ricart-Agrawala hybrid mutual
// exclusion state machine. All of its exported methods are intended to
// be called exclusively from the controller goroutine; the one
// exception is the auto-resign timer, which is handled by enqueueing
// rather than calling in directly.
type Manager struct {
	selfID       string
	table        *membership.Table
	clock        *LogicalClock
	tokenMaxTime time.Duration
	broadcast    Broadcaster
	queue        Enqueuer

	timerMu sync.Mutex
	timer   *time.Timer
}

// New builds a Manager over an already-initialised membership table
// (which starts with TokenOwner == self).
func New(selfID string, table *membership.Table, clock *LogicalClock, tokenMaxTime time.Duration, broadcast Broadcaster, queue Enqueuer) *Manager {
	return &Manager{
		selfID:       selfID,
		table:        table,
		clock:        clock,
		tokenMaxTime: tokenMaxTime,
		broadcast:    broadcast,
		queue:        queue,
	}
}

// ClaimOwnership requests the critical section: it passes the token to
// itself immediately if it already holds it, otherwise it broadcasts a
// Request and waits for the current holder to resign.
func (m *Manager) ClaimOwnership() {
	if m.table.TokenOwner == m.selfID {
		m.table.Locked = true
		t := m.clock.Increase()
		self := m.table.Get(m.selfID)
		self.Granted = t
		self.Requested = t
		m.broadcast.Broadcast(wire.PassToken{DestClientID: m.selfID, RicartTable: m.table.ToRicart()}, "")
		m.scheduleAutoResign()
		return
	}

	t := m.clock.Increase()
	self := m.table.Get(m.selfID)
	self.Requested = t
	m.broadcast.Broadcast(wire.Request{ClientID: m.selfID, LogicalTime: t}, "")
}

// Resign releases the critical section, passing the token to the next
// waiting participant in ring order if any exists. It is a
// precondition-checked no-op when self is not the current token
// owner, which is what makes the auto-resign timer's best-effort
// firing after a manual resign (or after shutdown) safe to ignore.
func (m *Manager) Resign() {
	if m.table.TokenOwner != m.selfID {
		return
	}
	m.cancelTimer()

	m.table.Locked = false
	self := m.table.Get(m.selfID)
	self.Granted = m.clock.Get()

	next := m.selectNext()
	if next == "" {
		m.broadcast.Broadcast(wire.Resign{ClientID: m.selfID}, "")
		return
	}

	m.table.TokenOwner = next
	m.table.Locked = true
	m.broadcast.Broadcast(wire.PassToken{DestClientID: next, RicartTable: m.table.ToRicart()}, "")
}

// selectNext implements the ring selection rule: starting just past
// self's position, return the first participant with R > G, or ""
// if none is waiting.
func (m *Manager) selectNext() string {
	n := m.table.Len()
	i := m.table.IndexOf(m.selfID)
	if i < 0 {
		return ""
	}
	for j := 1; j < n; j++ {
		id := m.table.At((i + j) % n)
		if m.table.Get(id).HasRequested() {
			return id
		}
	}
	return ""
}

// ProcessPassToken adopts a remote PassToken's owner and Ricart table.
// Returns true iff self is the new token owner, in which case the
// caller has already had its auto-resign timer re-armed.
func (m *Manager) ProcessPassToken(msg wire.PassToken) bool {
	m.table.TokenOwner = msg.DestClientID
	m.table.Locked = true
	m.table.UpdateWithRicart(msg.RicartTable)

	if msg.DestClientID == m.selfID {
		m.scheduleAutoResign()
		return true
	}
	return false
}

// ProcessRequest records a remote Request against its sender's row and,
// if self holds the token unlocked, resigns it immediately. A no-op
// unless self currently holds the token.
func (m *Manager) ProcessRequest(msg wire.Request) {
	if m.table.TokenOwner != m.selfID {
		return
	}
	p := m.table.Get(msg.ClientID)
	if p == nil {
		return
	}
	p.Requested = msg.LogicalTime

	if !m.table.Locked {
		m.Resign()
	}
	// Otherwise the token is still held; it will be passed when
	// Resign() runs locally or the auto-resign timer fires.
}

// RegisterOthersResign handles a remote Resign{}: nobody is holding
// the critical section anymore.
func (m *Manager) RegisterOthersResign() {
	m.table.Locked = false
}

// FireAutoResign is invoked by the controller when it dequeues the
// InternalAutoResign message the timer enqueued. It performs the
// actual resign() transition on the controller goroutine.
func (m *Manager) FireAutoResign() {
	m.Resign()
}

func (m *Manager) scheduleAutoResign() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	selfID := m.selfID
	queue := m.queue
	m.timer = time.AfterFunc(m.tokenMaxTime, func() {
		queue.Enqueue(wire.SignedMessage{ClientID: selfID, Message: wire.InternalAutoResign{ClientID: selfID}})
	})
}

func (m *Manager) cancelTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
