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

// Reassembler recovers message boundaries from a stream of
// concatenated JSON objects by tracking balanced brace depth. It
// deliberately does not understand JSON string escaping: every string
// payload on this wire is base64 or an alphanumeric id, never raw
// braces, so byte-literal counting is sufficient.
//
// A Reassembler is not safe for concurrent use; each Peer owns one.
type Reassembler struct {
	depth int
	buf   []byte
}

// NewReassembler returns an empty framer.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends newly-read bytes and returns every complete message
// framed so far, in order. Bytes outside of any object (including the
// '\n' terminator the encoder appends) are discarded. A partial tail
// is retained across calls.
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	var frames [][]byte
	for _, b := range chunk {
		switch {
		case b == '{':
			r.depth++
			r.buf = append(r.buf, b)
		case b == '}':
			if r.depth == 0 {
				// Stray closing brace outside any object; ignore.
				continue
			}
			r.depth--
			r.buf = append(r.buf, b)
			if r.depth == 0 {
				frame := make([]byte, len(r.buf))
				copy(frame, r.buf)
				frames = append(frames, frame)
				r.buf = r.buf[:0]
			}
		case r.depth > 0:
			r.buf = append(r.buf, b)
		default:
			// Between messages: whitespace or the '\n' terminator.
		}
	}
	return frames
}
