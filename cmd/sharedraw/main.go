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

// Command sharedraw runs one participant of the peer-to-peer shared
// drawing board: a urfave/cli/v2 app exposing a run subcommand that
// joins the mesh and a status subcommand that prints the effective
// configuration.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/sharedraw/sharedraw/canvas"
	"github.com/sharedraw/sharedraw/config"
	"github.com/sharedraw/sharedraw/controller"
	"github.com/sharedraw/sharedraw/identity"
	"github.com/sharedraw/sharedraw/membership"
	"github.com/sharedraw/sharedraw/netpeer"
	"github.com/sharedraw/sharedraw/ownership"
	"github.com/sharedraw/sharedraw/wire"
)

const canvasSide = 512

func main() {
	app := &cli.App{
		Name:  "sharedraw",
		Usage: "a peer-to-peer shared drawing board participant",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start this participant",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: config.DefaultPort, Usage: "TCP listening port"},
					&cli.StringFlag{Name: "connect", Usage: "host:port of an existing participant to join"},
				},
				Action: runAction,
			},
			{
				Name:  "status",
				Usage: "print the effective configuration this node would run with",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: config.DefaultPort, Usage: "TCP listening port"},
				},
				Action: statusAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func statusAction(c *cli.Context) error {
	cfg := config.Default()
	cfg.Port = c.Int("port")
	if err := config.Verify(cfg); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"setting", "value"})
	table.Append([]string{"port", strconv.Itoa(cfg.Port)})
	table.Append([]string{"keep_alive_interval", cfg.KeepAliveInterval.String()})
	table.Append([]string{"keep_alive_timeout", cfg.KeepAliveTimeout.String()})
	table.Append([]string{"token_ownership_max_time", cfg.TokenOwnershipMaxTime.String()})
	table.Append([]string{"line_max_length", strconv.Itoa(cfg.LineMaxLength)})
	table.Render()
	return nil
}

// lazyQueue breaks a construction cycle: the pool and the ownership
// manager both need a Queue/Enqueuer before the Controller that owns
// the real queue can be constructed, since the Controller's own
// constructor needs the pool and the manager first.
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
	if ctrl == nil {
		log.Printf("sharedraw: dropping %T, controller not yet bound", msg.Message)
		return
	}
	ctrl.Enqueue(msg)
}

func runAction(c *cli.Context) error {
	cfg := config.Default()
	cfg.Port = c.Int("port")
	if err := config.Verify(cfg); err != nil {
		return err
	}

	selfID, err := identity.New()
	if err != nil {
		return err
	}
	log.Printf("sharedraw: starting as %s on port %d", selfID, cfg.Port)

	listener, err := netpeer.Listen(cfg.Port)
	if err != nil {
		return fmt.Errorf("sharedraw: cannot bind port %d: %w", cfg.Port, err)
	}

	table := membership.New(selfID)
	surface := canvas.NewMemCanvas(canvasSide, canvasSide)

	queue := &lazyQueue{}
	pool := netpeer.NewPool(listener, selfID, queue, cfg.KeepAliveInterval, cfg.KeepAliveTimeout)
	clock := &ownership.LogicalClock{}
	manager := ownership.New(selfID, table, clock, cfg.TokenOwnershipMaxTime, pool, queue)
	ctrl := controller.New(selfID, table, manager, pool, surface, 256, func() {})
	queue.bind(ctrl)

	if connect := c.String("connect"); connect != "" {
		host, port, err := splitHostPort(connect)
		if err != nil {
			return err
		}
		if _, err := pool.ConnectTo(host, port); err != nil {
			return fmt.Errorf("sharedraw: connect to %s: %w", connect, err)
		}
	}

	ctrl.Run()
	return nil
}

func splitHostPort(hostport string) (string, int, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("sharedraw: %q is not host:port", hostport)
	}
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("sharedraw: %q is not host:port: %w", hostport, err)
	}
	return hostport[:idx], port, nil
}
