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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("two-node join handshake", func() {
	// S1: B connects to A; A replies with an Image snapshot; both
	// converge on the same membership and token state.
	It("converges on membership, token owner, and unlocked state", func() {
		a := startNode(time.Minute)
		defer a.stop()
		b := startNode(time.Minute)
		defer b.stop()

		b.connectTo(a)

		Eventually(func() []string { return a.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))
		Eventually(func() []string { return b.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))

		Expect(a.Ctrl.Table().TokenOwner).To(Equal(a.ID))
		Expect(b.Ctrl.Table().TokenOwner).To(Equal(a.ID))
		Expect(a.Ctrl.Table().Locked).To(BeFalse())
		Expect(b.Ctrl.Table().Locked).To(BeFalse())
	})
})

var _ = Describe("claiming the token", func() {
	// S2: B claims ownership; A has nothing pending so it resigns
	// immediately and hands the token to B.
	It("passes the token to the requester", func() {
		a := startNode(time.Minute)
		defer a.stop()
		b := startNode(time.Minute)
		defer b.stop()

		b.connectTo(a)
		Eventually(func() []string { return a.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))

		b.Ctrl.ClaimOwnership()

		Eventually(func() string { return a.Ctrl.Table().TokenOwner }, time.Second).Should(Equal(b.ID))
		Eventually(func() string { return b.Ctrl.Table().TokenOwner }, time.Second).Should(Equal(b.ID))
		Eventually(func() bool { return a.Ctrl.Table().Locked }, time.Second).Should(BeTrue())
		Eventually(func() bool { return b.Ctrl.Table().Locked }, time.Second).Should(BeTrue())
	})
})

var _ = Describe("auto-resign on timeout", func() {
	// S3: the holder's token_ownership_max_time elapses with nobody
	// waiting; it resigns unilaterally and keeps the (now-idle) token.
	It("unlocks without transferring ownership", func() {
		shortTimeout := 60 * time.Millisecond
		a := startNode(shortTimeout)
		defer a.stop()
		b := startNode(shortTimeout)
		defer b.stop()

		b.connectTo(a)
		Eventually(func() []string { return a.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))

		a.Ctrl.ClaimOwnership()
		Eventually(func() bool { return a.Ctrl.Table().Locked }, time.Second).Should(BeTrue())

		Eventually(func() bool { return a.Ctrl.Table().Locked }, time.Second).Should(BeFalse())
		Expect(a.Ctrl.Table().TokenOwner).To(Equal(a.ID))
		Eventually(func() bool { return b.Ctrl.Table().Locked }, time.Second).Should(BeFalse())
		Expect(b.Ctrl.Table().TokenOwner).To(Equal(a.ID))
	})
})

var _ = Describe("failure-inheritance cascade", func() {
	// S4: three nodes A-B-C where B introduced C; B's connection to A
	// dies; A detects the failure and must cascade-remove both B and
	// C, inheriting the token if B held it.
	It("removes the relayed participant along with the dead direct peer", func() {
		a := startNode(time.Minute)
		defer a.stop()
		b := startNode(time.Minute)
		defer b.stop()
		c := startNode(time.Minute)
		defer c.stop()

		b.connectTo(a)
		Eventually(func() []string { return a.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))

		c.connectTo(b)
		Eventually(func() []string { return a.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID, c.ID))

		b.Ctrl.ClaimOwnership()
		Eventually(func() string { return a.Ctrl.Table().TokenOwner }, time.Second).Should(Equal(b.ID))

		b.stop() // simulate B dying; A's reader sees the closed connection and its pool removes B

		Eventually(func() []string { return a.Ctrl.Table().IDs() }, 2*time.Second).Should(ConsistOf(a.ID))
		Expect(a.Ctrl.Table().TokenOwner).To(Equal(a.ID))
		Expect(a.Ctrl.Table().Locked).To(BeFalse())
	})
})

var _ = Describe("relayed join", func() {
	// S5: A connects to B, then C connects to A; B must learn about C
	// with received_from_id = A without ever dialing C directly.
	It("lets a relayed participant be learned without a direct connection", func() {
		b := startNode(time.Minute)
		defer b.stop()
		a := startNode(time.Minute)
		defer a.stop()
		c := startNode(time.Minute)
		defer c.stop()

		a.connectTo(b)
		Eventually(func() []string { return b.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID))

		c.connectTo(a)

		Eventually(func() []string { return b.Ctrl.Table().IDs() }, time.Second).Should(ConsistOf(a.ID, b.ID, c.ID))
		relayed := b.Ctrl.Table().Get(c.ID)
		Expect(relayed).NotTo(BeNil())
		Expect(relayed.ReceivedFromID).To(Equal(a.ID))
	})
})
