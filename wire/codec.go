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

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotWireMessage is returned by Encode for internal-only variants
// (InternalReload, InternalQuit, ...) that are never sent on the wire.
var ErrNotWireMessage = errors.New("wire: message kind is internal-only, cannot encode")

// ErrUnknownType is returned by Decode when the "type" field names a
// variant outside the closed set. The caller is expected to log and
// drop the single message; the connection stays open.
var ErrUnknownType = errors.New("wire: unknown message type")

// envelope is the flat JSON shape every on-wire variant is packed
// into and unpacked from.
type envelope struct {
	Type         string          `json:"type"`
	ClientID     string          `json:"clientId,omitempty"`
	PointList    []wirePoint     `json:"pointList,omitempty"`
	Color        *int            `json:"color,omitempty"`
	Image        []byte          `json:"image,omitempty"`
	ClientList   []string        `json:"clientList,omitempty"`
	Token        *wireToken      `json:"token,omitempty"`
	DetectedBy   string          `json:"detectedBy,omitempty"`
	LogicalTime  *int64          `json:"logicalTime,omitempty"`
	DestClientID string          `json:"destClientId,omitempty"`
	RicartTable  []wireRicartRow `json:"ricartTable,omitempty"`
}

type wirePoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type wireToken struct {
	ClientID string `json:"clientId"`
	HasLock  bool   `json:"hasLock"`
}

type wireRicartRow struct {
	ClientID                string `json:"clientId"`
	LastRequestLogicalTime  int64  `json:"lastRequestLogicalTime"`
	LastBlockadeLogicalTime int64  `json:"lastBlockadeLogicalTime"`
}

// Encode renders m as a single JSON object with no inner newlines,
// terminated by a single '\n'.
func Encode(m Message) ([]byte, error) {
	env, err := toEnvelope(m)
	if err != nil {
		return nil, err
	}
	bts, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return append(bts, '\n'), nil
}

func toEnvelope(m Message) (*envelope, error) {
	switch v := m.(type) {
	case Paint:
		pts := make([]wirePoint, len(v.ChangedPxs))
		for i, p := range v.ChangedPxs {
			pts[i] = wirePoint{X: p.X, Y: p.Y}
		}
		color := int(v.Color)
		return &envelope{Type: string(KindPaint), PointList: pts, Color: &color}, nil

	case Image:
		return &envelope{
			Type:       string(KindImage),
			ClientID:   v.ClientID,
			Image:      v.PNGBytes,
			ClientList: v.ClientIDs,
			Token:      &wireToken{ClientID: v.TokenOwner, HasLock: v.Locked},
		}, nil

	case Join:
		// ReceivedFromID and Address are local-only annotations and
		// are deliberately never serialised.
		return &envelope{Type: string(KindJoin), ClientID: v.ClientID}, nil

	case Quit:
		return &envelope{Type: string(KindQuit), ClientList: v.ClientIDs, DetectedBy: v.DetectedBy}, nil

	case Clean:
		return &envelope{Type: string(KindClean), ClientID: v.ClientID}, nil

	case Request:
		lt := v.LogicalTime
		return &envelope{Type: string(KindRequest), ClientID: v.ClientID, LogicalTime: &lt}, nil

	case Resign:
		return &envelope{Type: string(KindResign), ClientID: v.ClientID}, nil

	case PassToken:
		rows := make([]wireRicartRow, len(v.RicartTable))
		for i, r := range v.RicartTable {
			rows[i] = wireRicartRow{
				ClientID:                r.ClientID,
				LastRequestLogicalTime:  r.LastRequestLogicalTime,
				LastBlockadeLogicalTime: r.LastBlockadeLogicalTime,
			}
		}
		return &envelope{Type: string(KindPassToken), DestClientID: v.DestClientID, RicartTable: rows}, nil

	default:
		return nil, ErrNotWireMessage
	}
}

// Decode parses one framed JSON object into its typed Message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}

	switch Kind(env.Type) {
	case KindPaint:
		pts := make([]Point, len(env.PointList))
		for i, p := range env.PointList {
			pts[i] = Point{X: p.X, Y: p.Y}
		}
		color := Black
		if env.Color != nil {
			color = Color(*env.Color)
		}
		return Paint{ChangedPxs: pts, Color: color}, nil

	case KindImage:
		var tokenOwner string
		var locked bool
		if env.Token != nil {
			tokenOwner = env.Token.ClientID
			locked = env.Token.HasLock
		}
		return Image{
			ClientID:   env.ClientID,
			PNGBytes:   env.Image,
			ClientIDs:  env.ClientList,
			TokenOwner: tokenOwner,
			Locked:     locked,
		}, nil

	case KindJoin:
		return Join{ClientID: env.ClientID}, nil

	case KindQuit:
		return Quit{ClientIDs: env.ClientList, DetectedBy: env.DetectedBy}, nil

	case KindClean:
		return Clean{ClientID: env.ClientID}, nil

	case KindRequest:
		var lt int64
		if env.LogicalTime != nil {
			lt = *env.LogicalTime
		}
		return Request{ClientID: env.ClientID, LogicalTime: lt}, nil

	case KindResign:
		return Resign{ClientID: env.ClientID}, nil

	case KindPassToken:
		rows := make([]RicartRow, len(env.RicartTable))
		for i, r := range env.RicartTable {
			rows[i] = RicartRow{
				ClientID:                r.ClientID,
				LastRequestLogicalTime:  r.LastRequestLogicalTime,
				LastBlockadeLogicalTime: r.LastBlockadeLogicalTime,
			}
		}
		return PassToken{DestClientID: env.DestClientID, RicartTable: rows}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
