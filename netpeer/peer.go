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

// Package netpeer implements the TCP peer mesh: one goroutine per
// connection doing blocking reads, a mutex-guarded write path, and a
// pool that owns the listening socket, the accept loop, and the peer
// collection.
package netpeer

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/sharedraw/sharedraw/wire"
)

// Queue is the controller's inbound mailbox.
type Queue interface {
	Enqueue(msg wire.SignedMessage)
}

// Peer represents one directed TCP connection to another participant.
type Peer struct {
	conn       net.Conn
	isIncoming bool
	queue      Queue

	mu         sync.Mutex
	clientID   string
	registered bool
	enabled    bool
	lastAlive  time.Time
	writeMu    sync.Mutex

	reassembler *wire.Reassembler

	die         chan struct{}
	dieOnce     sync.Once
	onDisable   func(*Peer)
	readTimeout time.Duration
}

const readChunkSize = 64 * 1024

// newPeer is the shared constructor; NewOutgoing/NewIncoming set
// isIncoming and whether a Join handshake is sent immediately.
func newPeer(conn net.Conn, isIncoming bool, queue Queue, onDisable func(*Peer)) *Peer {
	p := &Peer{
		conn:        conn,
		isIncoming:  isIncoming,
		queue:       queue,
		enabled:     true,
		lastAlive:   time.Now(),
		reassembler: wire.NewReassembler(),
		die:         make(chan struct{}),
		onDisable:   onDisable,
		readTimeout: 0,
	}
	go p.readLoop()
	return p
}

// NewIncoming wraps an accepted connection. It waits for the remote
// side's Join/Image before it is registered.
func NewIncoming(conn net.Conn, queue Queue, onDisable func(*Peer)) *Peer {
	return newPeer(conn, true, queue, onDisable)
}

// NewOutgoing wraps a connection this process dialed, and immediately
// sends the Join handshake announcing its own id.
func NewOutgoing(conn net.Conn, selfID string, queue Queue, onDisable func(*Peer)) (*Peer, error) {
	p := newPeer(conn, false, queue, onDisable)
	bts, err := wire.Encode(wire.Join{ClientID: selfID})
	if err != nil {
		return nil, err
	}
	if err := p.writeRaw(bts); err != nil {
		p.disable()
		return nil, err
	}
	return p, nil
}

// ClientID returns the adopted remote id, or "" if not yet registered.
func (p *Peer) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// IsActive reports enabled && registered.
func (p *Peer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled && p.registered
}

// Enabled reports the liveness flag alone, ignoring registration.
func (p *Peer) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// LastAlive returns the timestamp of the last successful read.
func (p *Peer) LastAlive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAlive
}

// IsIncoming reports whether this connection was accepted (true) or
// dialed (false).
func (p *Peer) IsIncoming() bool {
	return p.isIncoming
}

// Send writes one already-encoded frame to this peer's socket. A
// write error disables the peer, which runs the onDisable callback
// (the pool's Remove) right away.
func (p *Peer) Send(bts []byte) error {
	if !p.Enabled() {
		return errors.New("netpeer: peer disabled")
	}
	if err := p.writeRaw(bts); err != nil {
		p.disable()
		return err
	}
	return nil
}

func (p *Peer) writeRaw(bts []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	n, err := p.conn.Write(bts)
	if err != nil {
		log.Printf("netpeer: write to %s failed after %s: %v", p.conn.RemoteAddr(), bytefmt.ByteSize(uint64(n)), err)
	}
	return err
}

// Close shuts the connection down exactly once.
func (p *Peer) Close() {
	p.dieOnce.Do(func() {
		p.conn.Close()
		close(p.die)
	})
}

// disableExternally is used by the Pool when it evicts a peer that
// has not itself observed a read/write failure (e.g. a keep-alive
// timeout). It skips the onDisable callback since the caller is
// already in the middle of handling removal.
func (p *Peer) disableExternally() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	p.Close()
}

func (p *Peer) disable() {
	p.mu.Lock()
	wasEnabled := p.enabled
	p.enabled = false
	p.mu.Unlock()
	p.Close()
	if wasEnabled && p.onDisable != nil {
		p.onDisable(p)
	}
}

// readLoop is the per-connection receive loop: blocking reads fed to
// the framing reassembler, with registration adoption and
// direct-vs-relayed Join bookkeeping.
func (p *Peer) readLoop() {
	defer p.disable()

	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-p.die:
			return
		default:
		}

		n, err := p.conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("netpeer: read error: %v", err)
			}
			return
		}
		if n == 0 {
			return
		}

		p.mu.Lock()
		p.lastAlive = time.Now()
		p.mu.Unlock()

		if n >= readChunkSize {
			log.Printf("netpeer: read %s from %s in one chunk, buffer may be saturated", bytefmt.ByteSize(uint64(n)), p.conn.RemoteAddr())
		}

		for _, frame := range p.reassembler.Feed(buf[:n]) {
			msg, err := wire.Decode(frame)
			if err != nil {
				log.Printf("netpeer: dropping malformed frame: %v", err)
				continue
			}
			p.handleFramed(msg)
		}
	}
}

func (p *Peer) handleFramed(msg wire.Message) {
	switch m := msg.(type) {
	case wire.Join:
		p.mu.Lock()
		if !p.registered {
			p.clientID = m.ClientID
			p.registered = true
			p.mu.Unlock()
			m.ReceivedFromID = nil
			m.Address = nil
		} else {
			relay := p.clientID
			p.mu.Unlock()
			m.ReceivedFromID = &relay
		}
		p.enqueue(m)

	case wire.Image:
		p.mu.Lock()
		if !p.registered {
			p.clientID = m.ClientID
			p.registered = true
			p.mu.Unlock()
			p.enqueue(m)
		} else {
			p.mu.Unlock()
			log.Printf("netpeer: dropping Image from already-registered peer %s", p.ClientID())
		}

	default:
		p.enqueue(msg)
	}
}

func (p *Peer) enqueue(msg wire.Message) {
	p.queue.Enqueue(wire.SignedMessage{ClientID: p.ClientID(), Message: msg})
}
