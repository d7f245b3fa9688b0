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

package netpeer

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sharedraw/sharedraw/wire"
	"golang.org/x/sys/unix"
)

// Pool owns the listening socket and the set of known peers. Its peer
// collection is mutated from the acceptor, the failure detector, and
// (on write error) whichever goroutine issued the send, so it is
// guarded by a mutex.
type Pool struct {
	selfID string
	queue  Queue

	listener *net.TCPListener

	mu    sync.Mutex
	peers []*Peer

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration

	die     chan struct{}
	dieOnce sync.Once
}

// Listen binds the listening socket with SO_REUSEADDR set explicitly,
// which lets a restarted node rebind its port while a previous
// connection lingers in TIME_WAIT.
func Listen(port int) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("netpeer: expected *net.TCPListener, got %T", ln)
	}
	return tcpLn, nil
}

// NewPool wraps an already-bound listener. selfID is the id announced
// in the Join handshake of every outgoing connection; it is never used
// as an implicit exclude id: callers pass that explicitly to Broadcast.
func NewPool(listener *net.TCPListener, selfID string, queue Queue, keepAliveInterval, keepAliveTimeout time.Duration) *Pool {
	p := &Pool{
		selfID:            selfID,
		queue:             queue,
		listener:          listener,
		keepAliveInterval: keepAliveInterval,
		keepAliveTimeout:  keepAliveTimeout,
		die:               make(chan struct{}),
	}
	go p.acceptLoop()
	go p.failureDetectorLoop()
	return p
}

// Close stops the acceptor and failure detector and disables every
// peer; sockets are closed at most once each.
func (p *Pool) Close() {
	p.dieOnce.Do(func() {
		close(p.die)
		p.listener.Close()
		p.mu.Lock()
		peers := append([]*Peer(nil), p.peers...)
		p.mu.Unlock()
		for _, peer := range peers {
			peer.Close()
		}
	})
}

// acceptLoop accepts with a 1-second timeout so the shutdown signal is
// observed promptly.
func (p *Pool) acceptLoop() {
	for {
		select {
		case <-p.die:
			return
		default:
		}

		p.listener.SetDeadline(time.Now().Add(1 * time.Second))
		conn, err := p.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-p.die:
				return
			default:
				log.Printf("netpeer: accept error: %v", err)
				continue
			}
		}

		peer := NewIncoming(conn, p.queue, p.Remove)
		p.mu.Lock()
		p.peers = append(p.peers, peer)
		p.mu.Unlock()
	}
}

// failureDetectorLoop periodically sweeps the peer collection for
// stale or disabled connections.
func (p *Pool) failureDetectorLoop() {
	ticker := time.NewTicker(p.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.die:
			return
		case <-ticker.C:
			p.CheckAlive()
		}
	}
}

// ConnectTo dials ip:port and registers the resulting outgoing peer.
func (p *Pool) ConnectTo(ip string, port int) (*Peer, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, err
	}
	peer, err := NewOutgoing(conn, p.selfID, p.queue, p.Remove)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.peers = append(p.peers, peer)
	p.mu.Unlock()
	return peer, nil
}

// Broadcast encodes msg once and writes it to every active peer whose
// client id differs from excludeID.
func (p *Pool) Broadcast(msg wire.Message, excludeID string) {
	bts, err := wire.Encode(msg)
	if err != nil {
		log.Printf("netpeer: cannot encode %T: %v", msg, err)
		return
	}

	p.mu.Lock()
	targets := append([]*Peer(nil), p.peers...)
	p.mu.Unlock()

	for _, peer := range targets {
		if !peer.IsActive() || peer.ClientID() == excludeID {
			continue
		}
		if err := peer.Send(bts); err != nil {
			p.Remove(peer)
		}
	}
}

// SendToClient writes msg to the single peer with the given id.
func (p *Pool) SendToClient(msg wire.Message, id string) {
	p.mu.Lock()
	var target *Peer
	for _, peer := range p.peers {
		if peer.ClientID() == id {
			target = peer
			break
		}
	}
	p.mu.Unlock()

	if target == nil || !target.IsActive() {
		log.Printf("netpeer: send_to_client: no active peer %s", id)
		return
	}

	bts, err := wire.Encode(msg)
	if err != nil {
		log.Printf("netpeer: cannot encode %T: %v", msg, err)
		return
	}
	if err := target.Send(bts); err != nil {
		p.Remove(target)
	}
}

// CheckAlive evicts every disabled peer or one whose last inbound
// traffic is older than keepAliveTimeout.
func (p *Pool) CheckAlive() {
	p.mu.Lock()
	targets := append([]*Peer(nil), p.peers...)
	p.mu.Unlock()

	now := time.Now()
	for _, peer := range targets {
		if !peer.Enabled() || now.Sub(peer.LastAlive()) > p.keepAliveTimeout {
			p.Remove(peer)
		}
	}
}

// Remove disables peer, evicts it from the collection, and enqueues
// InternalQuit{peer.client_id} so the controller propagates the
// membership change.
func (p *Pool) Remove(peer *Peer) {
	p.mu.Lock()
	kept := p.peers[:0]
	found := false
	for _, existing := range p.peers {
		if existing == peer {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	p.peers = kept
	p.mu.Unlock()

	if !found {
		return
	}
	id := peer.ClientID()
	peer.disableExternally()
	p.queue.Enqueue(wire.SignedMessage{ClientID: id, Message: wire.InternalQuit{ClientID: id}})
}
