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

// Package membership maintains the authoritative set of known
// participant ids with provenance: the ordered sequence of Participant
// entries that both defines the token-passing ring and carries the
// Ricart-Agrawala (G,R) columns.
package membership

import "github.com/sharedraw/sharedraw/wire"

// Participant is one membership-level entity: an id, the direct
// neighbour that introduced it (absent for self and directly
// connected peers), and the Ricart-Agrawala (G,R) counters.
type Participant struct {
	ID             string
	ReceivedFromID string // "" means direct / self
	Granted        int64  // G
	Requested      int64  // R
}

// HasRequested reports whether this participant is currently waiting
// for the token (R > G).
func (p Participant) HasRequested() bool {
	return p.Requested > p.Granted
}

// Table is the ordered sequence of Participants, plus token state.
// Not safe for concurrent use: every mutation is expected to happen
// from a single goroutine.
type Table struct {
	order      []string
	byID       map[string]*Participant
	TokenOwner string
	Locked     bool
}

// New returns a table containing only self, holding the token.
func New(self string) *Table {
	t := &Table{byID: make(map[string]*Participant)}
	t.insert(self, "")
	t.TokenOwner = self
	t.Locked = false
	return t
}

func (t *Table) insert(id, from string) {
	if _, ok := t.byID[id]; ok {
		return
	}
	t.order = append(t.order, id)
	t.byID[id] = &Participant{ID: id, ReceivedFromID: from}
}

// Add is idempotent; a no-op if id is already present.
func (t *Table) Add(id, from string) {
	t.insert(id, from)
}

// Contains reports whether id is currently a member.
func (t *Table) Contains(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Get returns the participant record for id, or nil.
func (t *Table) Get(id string) *Participant {
	return t.byID[id]
}

// IDs returns every participant id in ring order, including self.
func (t *Table) IDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of participants.
func (t *Table) Len() int {
	return len(t.order)
}

// IndexOf returns the ring position of id, or -1 if absent.
func (t *Table) IndexOf(id string) int {
	for i, x := range t.order {
		if x == id {
			return i
		}
	}
	return -1
}

// At returns the participant id at ring position i (wrapped by the
// caller as needed).
func (t *Table) At(i int) string {
	return t.order[i]
}

// Remove deletes id and, cascaded, every participant whose
// ReceivedFromID equals id (the subtree reachable only through the
// lost neighbour). Returns every id actually removed, including id
// itself if present.
func (t *Table) Remove(id string) []string {
	if !t.Contains(id) {
		return nil
	}
	toRemove := map[string]bool{id: true}
	// Fixed point: cascaded removal may itself orphan further
	// participants introduced through an already-removed one.
	for changed := true; changed; {
		changed = false
		for _, pid := range t.order {
			if toRemove[pid] {
				continue
			}
			p := t.byID[pid]
			if p.ReceivedFromID != "" && toRemove[p.ReceivedFromID] {
				toRemove[pid] = true
				changed = true
			}
		}
	}

	var removed []string
	var kept []string
	for _, pid := range t.order {
		if toRemove[pid] {
			removed = append(removed, pid)
			delete(t.byID, pid)
		} else {
			kept = append(kept, pid)
		}
	}
	t.order = kept
	return removed
}

// RemoveRemote processes a received Quit: removes every id (cascaded
// per Remove), and if any removed id was the token owner, transfers
// ownership to detectedBy and clears Locked (inheritance on failure).
func (t *Table) RemoveRemote(ids []string, detectedBy string) []string {
	var allRemoved []string
	ownerLost := false
	for _, id := range ids {
		removed := t.Remove(id)
		allRemoved = append(allRemoved, removed...)
		for _, r := range removed {
			if r == t.TokenOwner {
				ownerLost = true
			}
		}
	}
	if ownerLost {
		t.TokenOwner = detectedBy
		t.Locked = false
	}
	return allRemoved
}

// UpdateWithIDList folds an Image message's client list into the
// table: for each id != from, Add(id, from). Used when an Image
// reveals the remote peer's neighbours.
func (t *Table) UpdateWithIDList(ids []string, from string) {
	for _, id := range ids {
		if id == from {
			continue
		}
		t.Add(id, from)
	}
}

// ToRicart serialises the (G,R) columns in table order.
func (t *Table) ToRicart() []wire.RicartRow {
	rows := make([]wire.RicartRow, 0, len(t.order))
	for _, id := range t.order {
		p := t.byID[id]
		rows = append(rows, wire.RicartRow{
			ClientID:                p.ID,
			LastRequestLogicalTime:  p.Requested,
			LastBlockadeLogicalTime: p.Granted,
		})
	}
	return rows
}

// UpdateWithRicart deserialises (G,R) columns received in a
// PassToken snapshot. Rows naming an id not yet in the table are a
// safe no-op, since membership additions arrive exclusively via
// Join/Image, never via PassToken.
func (t *Table) UpdateWithRicart(rows []wire.RicartRow) {
	for _, row := range rows {
		p, ok := t.byID[row.ClientID]
		if !ok {
			continue
		}
		p.Requested = row.LastRequestLogicalTime
		p.Granted = row.LastBlockadeLogicalTime
	}
}
