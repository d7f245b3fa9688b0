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

// Package controller implements the single-consumer event dispatcher:
// the sole mutator of the membership table, ownership manager, and
// canvas, reached only by pulling wire.SignedMessage values off one
// bounded queue. Every on-wire message is re-broadcast to the mesh
// after its local side effects are applied, Image messages included;
// internal-only variants and unhandled types are not re-broadcast.
package controller

import (
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/sharedraw/sharedraw/membership"
	"github.com/sharedraw/sharedraw/ownership"
	"github.com/sharedraw/sharedraw/wire"
)

// Canvas is the drawing surface the core depends on, consumed as an
// injected dependency.
type Canvas interface {
	PNGSnapshot() ([]byte, error)
	ApplyStroke(points []wire.Point, color wire.Color)
	ApplyPNG(png []byte) error
	Clear()
}

// PeerPool is the subset of netpeer.Pool the controller drives.
type PeerPool interface {
	Broadcast(msg wire.Message, excludeID string)
	SendToClient(msg wire.Message, id string)
}

// Controller is the sole mutator of membership/ownership/canvas state.
type Controller struct {
	selfID  string
	table   *membership.Table
	manager *ownership.Manager
	pool    PeerPool
	canvas  Canvas

	queue    chan wire.SignedMessage
	die      chan struct{}
	onReload func()
}

// New builds a Controller. queueDepth bounds the inbound mailbox.
func New(selfID string, table *membership.Table, manager *ownership.Manager, pool PeerPool, canvas Canvas, queueDepth int, onReload func()) *Controller {
	return &Controller{
		selfID:   selfID,
		table:    table,
		manager:  manager,
		pool:     pool,
		canvas:   canvas,
		queue:    make(chan wire.SignedMessage, queueDepth),
		die:      make(chan struct{}),
		onReload: onReload,
	}
}

// Table exposes the membership table for introspection (status
// rendering, tests). Only the controller goroutine may mutate it.
func (c *Controller) Table() *membership.Table {
	return c.table
}

// Enqueue implements both netpeer.Queue and ownership.Enqueuer,
// letting peers, the pool, and the auto-resign timer hand work to the
// controller goroutine without touching shared state themselves.
func (c *Controller) Enqueue(msg wire.SignedMessage) {
	select {
	case c.queue <- msg:
	case <-c.die:
	}
}

// ClaimOwnership and Resign are the entry points for a local drawing
// surface wanting the token; they enqueue rather than call the
// ownership manager directly so the actual state transition still
// happens on the controller goroutine alone.
func (c *Controller) ClaimOwnership() {
	c.Enqueue(wire.SignedMessage{ClientID: c.selfID, Message: wire.InternalClaimOwnership{}})
}

func (c *Controller) Resign() {
	c.Enqueue(wire.SignedMessage{ClientID: c.selfID, Message: wire.InternalResignOwnership{}})
}

// Stop terminates Run's loop. Pending queue items are dropped; the
// auto-resign timer remains best-effort.
func (c *Controller) Stop() {
	close(c.die)
}

// Run is the single goroutine body; it must be started exactly once.
func (c *Controller) Run() {
	for {
		select {
		case <-c.die:
			return
		case sm := <-c.queue:
			c.dispatch(sm)
		}
	}
}

func (c *Controller) dispatch(sm wire.SignedMessage) {
	switch m := sm.Message.(type) {
	case wire.Paint:
		c.canvas.ApplyStroke(m.ChangedPxs, m.Color)

	case wire.Image:
		c.table.Add(m.ClientID, "")
		c.table.UpdateWithIDList(m.ClientIDs, m.ClientID)
		c.table.TokenOwner = m.TokenOwner
		c.table.Locked = m.Locked
		if err := c.canvas.ApplyPNG(m.PNGBytes); err != nil {
			log.Printf("controller: apply png: %v", err)
		}

	case wire.Join:
		if m.ReceivedFromID != nil {
			c.table.Add(m.ClientID, *m.ReceivedFromID)
		} else {
			c.table.Add(m.ClientID, "")
			png, err := c.canvas.PNGSnapshot()
			if err != nil {
				log.Printf("controller: png snapshot: %v", err)
			}
			reply := wire.Image{
				ClientID:   c.selfID,
				PNGBytes:   png,
				ClientIDs:  c.table.IDs(),
				TokenOwner: c.table.TokenOwner,
				Locked:     c.table.Locked,
			}
			c.pool.SendToClient(reply, m.ClientID)
		}

	case wire.Quit:
		c.table.RemoveRemote(m.ClientIDs, m.DetectedBy)

	case wire.Clean:
		c.canvas.Clear()

	case wire.Request:
		c.manager.ProcessRequest(m)

	case wire.Resign:
		c.manager.RegisterOthersResign()

	case wire.PassToken:
		c.manager.ProcessPassToken(m)

	case wire.InternalQuit:
		// RemoveRemote cascades like Remove and, if the token owner was
		// among the removed, lets self inherit the token unlocked.
		removed := c.table.RemoveRemote([]string{m.ClientID}, c.selfID)
		if len(removed) > 0 {
			c.pool.Broadcast(wire.Quit{ClientIDs: removed, DetectedBy: c.selfID}, "")
		}
		c.notifyReload()
		return

	case wire.InternalReload:
		c.notifyReload()
		return

	case wire.InternalAutoResign:
		c.manager.FireAutoResign()
		c.Enqueue(wire.SignedMessage{ClientID: c.selfID, Message: wire.InternalReload{}})
		return

	case wire.InternalClaimOwnership:
		c.manager.ClaimOwnership()
		c.notifyReload()
		return

	case wire.InternalResignOwnership:
		c.manager.Resign()
		c.notifyReload()
		return

	default:
		log.Printf("controller: unhandled message type %T:\n%s", m, spew.Sdump(sm))
		return
	}

	c.pool.Broadcast(sm.Message, sm.ClientID)
	c.notifyReload()
}

func (c *Controller) notifyReload() {
	if c.onReload != nil {
		c.onReload()
	}
}
