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
	"testing"
	"time"

	"github.com/sharedraw/sharedraw/membership"
	"github.com/sharedraw/sharedraw/wire"
	"github.com/stretchr/testify/assert"
)

type fakeBroadcaster struct {
	sent []wire.Message
}

func (f *fakeBroadcaster) Broadcast(msg wire.Message, excludeID string) {
	f.sent = append(f.sent, msg)
}

type fakeQueue struct {
	enqueued []wire.SignedMessage
}

func (f *fakeQueue) Enqueue(msg wire.SignedMessage) {
	f.enqueued = append(f.enqueued, msg)
}

func TestClockIncreaseAndGet(t *testing.T) {
	c := &LogicalClock{}
	assert.Equal(t, int64(0), c.Get())
	assert.Equal(t, int64(1), c.Increase())
	assert.Equal(t, int64(2), c.Increase())
	assert.Equal(t, int64(2), c.Get())
}

func TestClaimOwnershipAsCurrentHolder(t *testing.T) {
	tbl := membership.New("A")
	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, qu)

	m.ClaimOwnership()

	assert.True(t, tbl.Locked)
	assert.Len(t, bc.sent, 1)
	pt, ok := bc.sent[0].(wire.PassToken)
	assert.True(t, ok)
	assert.Equal(t, "A", pt.DestClientID)
	assert.Equal(t, int64(1), tbl.Get("A").Granted)
	assert.Equal(t, int64(1), tbl.Get("A").Requested)
}

func TestClaimOwnershipAsNonHolderEmitsRequest(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"
	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("B", tbl, &LogicalClock{}, time.Hour, bc, qu)

	m.ClaimOwnership()

	assert.Len(t, bc.sent, 1)
	req, ok := bc.sent[0].(wire.Request)
	assert.True(t, ok)
	assert.Equal(t, "B", req.ClientID)
	assert.Equal(t, int64(1), req.LogicalTime)
	assert.Equal(t, int64(1), tbl.Get("B").Requested)
}

// TestResignPassesTokenToWaitingRequester covers: A holds the token, B
// has requested it (R > G); Resign must pick B via the ring rule and
// hand it the token.
func TestResignPassesTokenToWaitingRequester(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"
	tbl.Locked = true
	tbl.Get("B").Requested = 1 // B has an outstanding request

	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, qu)

	m.Resign()

	assert.Equal(t, "B", tbl.TokenOwner)
	assert.True(t, tbl.Locked)
	assert.Len(t, bc.sent, 1)
	pt, ok := bc.sent[0].(wire.PassToken)
	assert.True(t, ok)
	assert.Equal(t, "B", pt.DestClientID)
}

// TestResignWithNoRequesterEmitsResign covers: no pending requests
// means Resign broadcasts Resign{self} and keeps TokenOwner unchanged,
// Locked false.
func TestResignWithNoRequesterEmitsResign(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"
	tbl.Locked = true

	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, qu)

	m.Resign()

	assert.Equal(t, "A", tbl.TokenOwner)
	assert.False(t, tbl.Locked)
	assert.Len(t, bc.sent, 1)
	_, ok := bc.sent[0].(wire.Resign)
	assert.True(t, ok)
}

func TestResignNoOpWhenNotHolder(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "B"

	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, qu)

	m.Resign()

	assert.Empty(t, bc.sent)
	assert.Equal(t, "B", tbl.TokenOwner)
}

func TestProcessPassTokenAdoptsOwnerAndTable(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"

	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("B", tbl, &LogicalClock{}, time.Hour, bc, qu)

	gotToken := m.ProcessPassToken(wire.PassToken{
		DestClientID: "B",
		RicartTable: []wire.RicartRow{
			{ClientID: "A", LastBlockadeLogicalTime: 1, LastRequestLogicalTime: 1},
			{ClientID: "B", LastBlockadeLogicalTime: 0, LastRequestLogicalTime: 1},
		},
	})

	assert.True(t, gotToken)
	assert.Equal(t, "B", tbl.TokenOwner)
	assert.True(t, tbl.Locked)
	assert.Equal(t, int64(1), tbl.Get("A").Granted)
}

func TestProcessPassTokenForSomeoneElse(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.Add("C", "")

	m := New("A", tbl, &LogicalClock{}, time.Hour, &fakeBroadcaster{}, &fakeQueue{})

	gotToken := m.ProcessPassToken(wire.PassToken{DestClientID: "C"})
	assert.False(t, gotToken)
	assert.Equal(t, "C", tbl.TokenOwner)
}

func TestProcessRequestResignsImmediatelyWhenUnlocked(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"
	tbl.Locked = false

	bc := &fakeBroadcaster{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, &fakeQueue{})

	m.ProcessRequest(wire.Request{ClientID: "B", LogicalTime: 5})

	assert.Equal(t, int64(5), tbl.Get("B").Requested)
	assert.Equal(t, "B", tbl.TokenOwner)
	assert.True(t, tbl.Locked)
}

func TestProcessRequestWaitsWhenLocked(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "A"
	tbl.Locked = true

	bc := &fakeBroadcaster{}
	m := New("A", tbl, &LogicalClock{}, time.Hour, bc, &fakeQueue{})

	m.ProcessRequest(wire.Request{ClientID: "B", LogicalTime: 5})

	assert.Equal(t, int64(5), tbl.Get("B").Requested)
	assert.Equal(t, "A", tbl.TokenOwner)
	assert.Empty(t, bc.sent)
}

func TestProcessRequestNoOpWhenNotOwner(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.TokenOwner = "B"

	m := New("A", tbl, &LogicalClock{}, time.Hour, &fakeBroadcaster{}, &fakeQueue{})
	m.ProcessRequest(wire.Request{ClientID: "A", LogicalTime: 9})

	assert.Equal(t, int64(0), tbl.Get("A").Requested)
}

func TestRegisterOthersResignClearsLocked(t *testing.T) {
	tbl := membership.New("A")
	tbl.Locked = true
	m := New("A", tbl, &LogicalClock{}, time.Hour, &fakeBroadcaster{}, &fakeQueue{})
	m.RegisterOthersResign()
	assert.False(t, tbl.Locked)
}

// TestAutoResignTimerEnqueuesInsteadOfMutatingDirectly ensures the
// timer hands off to the controller queue rather than calling
// Resign() from its own goroutine, preserving the single-mutator rule.
func TestAutoResignTimerEnqueuesInsteadOfMutatingDirectly(t *testing.T) {
	tbl := membership.New("A")
	tbl.Add("B", "")
	tbl.Get("B").Requested = 1

	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, 10*time.Millisecond, bc, qu)

	m.ClaimOwnership()
	assert.Len(t, bc.sent, 1, "only the self-PassToken from ClaimOwnership so far")

	assert.Eventually(t, func() bool {
		return len(qu.enqueued) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, wire.InternalAutoResign{ClientID: "A"}, qu.enqueued[0].Message)
	// Table must be untouched by the timer goroutine itself.
	assert.Equal(t, "A", tbl.TokenOwner)

	m.FireAutoResign()
	assert.Equal(t, "B", tbl.TokenOwner)
}

func TestManualResignCancelsPendingTimer(t *testing.T) {
	tbl := membership.New("A")
	bc := &fakeBroadcaster{}
	qu := &fakeQueue{}
	m := New("A", tbl, &LogicalClock{}, 5*time.Millisecond, bc, qu)

	m.ClaimOwnership()
	m.Resign()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, qu.enqueued, "cancelled timer must not fire")
}
