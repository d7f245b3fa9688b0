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

package e2e

import (
	"net"
	"sync"
	"time"

	"github.com/sharedraw/sharedraw/canvas"
	"github.com/sharedraw/sharedraw/controller"
	"github.com/sharedraw/sharedraw/identity"
	"github.com/sharedraw/sharedraw/membership"
	"github.com/sharedraw/sharedraw/netpeer"
	"github.com/sharedraw/sharedraw/ownership"
	"github.com/sharedraw/sharedraw/wire"
)

// lazyQueue mirrors cmd/sharedraw's wiring helper: the pool and the
// ownership manager both need a queue handle before the controller
// that owns the real channel exists.
type lazyQueue struct {
	mu   sync.Mutex
	ctrl *controller.Controller
}

func (q *lazyQueue) bind(ctrl *controller.Controller) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctrl = ctrl
}

func (q *lazyQueue) Enqueue(msg wire.SignedMessage) {
	q.mu.Lock()
	ctrl := q.ctrl
	q.mu.Unlock()
	if ctrl != nil {
		ctrl.Enqueue(msg)
	}
}

// node is one full in-process participant bound to a real loopback
// TCP listener, used to exercise join, token transfer, and failure
// scenarios over an actual socket rather than mocked transport.
type node struct {
	ID       string
	Pool     *netpeer.Pool
	Ctrl     *controller.Controller
	Canvas   *canvas.MemCanvas
	listener *net.TCPListener
}

func startNode(tokenMaxTime time.Duration) *node {
	selfID, err := identity.New()
	if err != nil {
		panic(err)
	}

	listener, err := netpeer.Listen(0)
	if err != nil {
		panic(err)
	}

	table := membership.New(selfID)
	surface := canvas.NewMemCanvas(64, 64)
	queue := &lazyQueue{}
	pool := netpeer.NewPool(listener, selfID, queue, 30*time.Millisecond, 150*time.Millisecond)
	clock := &ownership.LogicalClock{}
	manager := ownership.New(selfID, table, clock, tokenMaxTime, pool, queue)
	ctrl := controller.New(selfID, table, manager, pool, surface, 64, nil)
	queue.bind(ctrl)
	go ctrl.Run()

	return &node{ID: selfID, Pool: pool, Ctrl: ctrl, Canvas: surface, listener: listener}
}

func (n *node) Port() int {
	return n.listener.Addr().(*net.TCPAddr).Port
}

func (n *node) connectTo(other *node) {
	if _, err := n.Pool.ConnectTo("127.0.0.1", other.Port()); err != nil {
		panic(err)
	}
}

func (n *node) stop() {
	n.Ctrl.Stop()
	n.Pool.Close()
}
