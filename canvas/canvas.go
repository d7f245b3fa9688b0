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

// Package canvas provides the drawing-surface collaborator the core
// depends on: a PNG snapshot getter, a stroke applier, a whole-image
// loader, and a clear operation. The coordination core treats the
// canvas itself, real PNG encoding, and any UI as out of its scope;
// MemCanvas exists only so cmd/sharedraw and the end-to-end tests have
// something concrete to drive the Canvas interface with.
package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/sharedraw/sharedraw/wire"
)

// Canvas is the interface the controller depends on. It matches
// controller.Canvas structurally; kept here so callers outside the
// controller package (cmd/sharedraw, tests) have a named type to
// construct against.
type Canvas interface {
	PNGSnapshot() ([]byte, error)
	ApplyStroke(points []wire.Point, color wire.Color)
	ApplyPNG(png []byte) error
	Clear()
}

// MemCanvas is a fixed-size in-memory grayscale canvas. Every pixel
// starts white, matching the convention wire.White = 255 establishes.
type MemCanvas struct {
	mu  sync.Mutex
	img *image.Gray
}

// NewMemCanvas allocates a width x height canvas, all white.
func NewMemCanvas(width, height int) *MemCanvas {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = byte(wire.White)
	}
	return &MemCanvas{img: img}
}

// PNGSnapshot encodes the current canvas as PNG bytes.
func (c *MemCanvas) PNGSnapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyStroke sets every named pixel to color, clamped to bounds.
func (c *MemCanvas) ApplyStroke(points []wire.Point, col wire.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gray := color.Gray{Y: byte(col)}
	bounds := c.img.Bounds()
	for _, p := range points {
		if p.X < bounds.Min.X || p.X >= bounds.Max.X || p.Y < bounds.Min.Y || p.Y >= bounds.Max.Y {
			continue
		}
		c.img.SetGray(p.X, p.Y, gray)
	}
}

// ApplyPNG decodes pngBytes and replaces the canvas contents.
func (c *MemCanvas) ApplyPNG(pngBytes []byte) error {
	decoded, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return err
	}

	bounds := decoded.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, decoded.At(x, y))
		}
	}

	c.mu.Lock()
	c.img = gray
	c.mu.Unlock()
	return nil
}

// Clear resets every pixel to white.
func (c *MemCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.img.Pix {
		c.img.Pix[i] = byte(wire.White)
	}
}
