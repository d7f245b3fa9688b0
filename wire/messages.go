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

// Package wire implements the JSON wire codec: the closed set of
// message variants exchanged between participants, a brace-counting
// framer for recovering message boundaries from a raw TCP byte
// stream, and the encode/decode pair binding the two together.
package wire

// Color is the pixel color carried by a Paint message. The wire
// encoding is a plain integer: 255 for white, 0 for black.
type Color int

const (
	Black Color = 0
	White Color = 255
)

// Point is one changed pixel coordinate.
type Point struct {
	X int
	Y int
}

// Kind identifies a message variant for dispatch without needing a
// type switch at every call site.
type Kind string

const (
	KindPaint          Kind = "paint"
	KindImage          Kind = "image"
	KindJoin           Kind = "join"
	KindQuit           Kind = "quit"
	KindClean          Kind = "clean"
	KindRequest        Kind = "request"
	KindResign         Kind = "resign"
	KindPassToken      Kind = "passToken"
	KindInternalReload      Kind = "internalReload"
	KindInternalQuit        Kind = "internalQuit"
	KindInternalAutoResign  Kind = "internalAutoResign"
	KindInternalClaimOwner  Kind = "internalClaimOwner"
	KindInternalResignOwner Kind = "internalResignOwner"
)

// Message is implemented by every variant, on-wire or internal.
type Message interface {
	Kind() Kind
}

// Paint carries a batch of changed pixels and their color.
type Paint struct {
	ChangedPxs []Point
	Color      Color
}

func (Paint) Kind() Kind { return KindPaint }

// Image is the canvas-snapshot reply sent to a freshly joined peer,
// or re-broadcast to let the mesh learn a peer's neighbours.
type Image struct {
	ClientID   string
	PNGBytes   []byte
	ClientIDs  []string
	TokenOwner string
	Locked     bool
}

func (Image) Kind() Kind { return KindImage }

// Join is the join handshake. ReceivedFromID and Address are local
// annotations filled in by the receiving Peer and are never
// serialised on the wire.
type Join struct {
	ClientID       string
	ReceivedFromID *string
	Address        *string
}

func (Join) Kind() Kind { return KindJoin }

// Quit announces that one or more participants are gone.
type Quit struct {
	ClientIDs  []string
	DetectedBy string
}

func (Quit) Kind() Kind { return KindQuit }

// Clean asks every replica to clear its canvas.
type Clean struct {
	ClientID string
}

func (Clean) Kind() Kind { return KindClean }

// Request is a Ricart-Agrawala token request.
type Request struct {
	ClientID    string
	LogicalTime int64
}

func (Request) Kind() Kind { return KindRequest }

// Resign announces the sender is giving up the token with nobody
// waiting to receive it.
type Resign struct {
	ClientID string
}

func (Resign) Kind() Kind { return KindResign }

// RicartRow is one row of the Ricart-Agrawala (G,R) table carried
// inside PassToken. LastRequestLogicalTime is R (requested),
// LastBlockadeLogicalTime is G (granted) for that participant.
type RicartRow struct {
	ClientID                string
	LastRequestLogicalTime  int64
	LastBlockadeLogicalTime int64
}

// PassToken hands the token (and a snapshot of the Ricart-Agrawala
// table) to DestClientID.
type PassToken struct {
	DestClientID string
	RicartTable  []RicartRow
}

func (PassToken) Kind() Kind { return KindPassToken }

// InternalReload is never sent on the wire; the controller enqueues
// it to itself to refresh local view state (e.g. after an
// auto-resign) without triggering a re-broadcast.
type InternalReload struct{}

func (InternalReload) Kind() Kind { return KindInternalReload }

// InternalQuit is never sent on the wire; the peer pool enqueues it
// when it locally detects a dead peer, so the controller can apply
// the cascaded removal and emit a real Quit to the mesh.
type InternalQuit struct {
	ClientID string
}

func (InternalQuit) Kind() Kind { return KindInternalQuit }

// InternalAutoResign is never sent on the wire; the auto-resign timer
// enqueues it so the actual Resign state transition still happens on
// the controller goroutine, preserving the single-mutator rule a
// free-standing timer callback would otherwise violate.
type InternalAutoResign struct {
	ClientID string
}

func (InternalAutoResign) Kind() Kind { return KindInternalAutoResign }

// InternalClaimOwnership is never sent on the wire; it is how the
// local drawing surface asks the controller goroutine to run
// ClaimOwnership without touching membership or ownership state from
// the caller's own goroutine.
type InternalClaimOwnership struct{}

func (InternalClaimOwnership) Kind() Kind { return KindInternalClaimOwner }

// InternalResignOwnership is the analogous request for a local,
// voluntary resign (as opposed to the timer-driven InternalAutoResign).
type InternalResignOwnership struct{}

func (InternalResignOwnership) Kind() Kind { return KindInternalResignOwner }

// SignedMessage wraps a Message with the client id of the peer that
// delivered it on the local TCP link. For relayed messages this may
// differ from the message's own author field.
type SignedMessage struct {
	ClientID string
	Message  Message
}
