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

// Package config holds the compile-time-tunable parameters of the
// sharedraw coordination core. Values are plain defaults that a CLI
// layer may override; nothing here touches the network or the canvas.
package config

import (
	"errors"
	"time"
)

// Default tuning values for a single participant.
const (
	DefaultPort                  = 5555
	DefaultKeepAliveInterval     = 5 * time.Second
	DefaultKeepAliveTimeout      = 15 * time.Second
	DefaultTokenOwnershipMaxTime = 10 * time.Second
	DefaultLineMaxLength         = 256
)

// Sentinel errors returned by Verify.
var (
	ErrPort                  = errors.New("config: port must be in 1..65535")
	ErrKeepAliveInterval     = errors.New("config: keep alive interval must be positive")
	ErrKeepAliveTimeout      = errors.New("config: keep alive timeout must be greater than the keep alive interval")
	ErrTokenOwnershipMaxTime = errors.New("config: token ownership max time must be positive")
	ErrLineMaxLength         = errors.New("config: line max length must be positive")
)

// Config collects every tunable the core needs. It carries no
// behaviour of its own; Verify is the only validation entry point.
type Config struct {
	// Port is the TCP listening port for the peer pool.
	Port int

	// KeepAliveInterval is how often the failure detector sweeps peers.
	KeepAliveInterval time.Duration

	// KeepAliveTimeout is how long a peer may go without inbound
	// traffic before it is considered dead.
	KeepAliveTimeout time.Duration

	// TokenOwnershipMaxTime bounds how long a token holder may keep
	// the critical section locked before auto-resigning.
	TokenOwnershipMaxTime time.Duration

	// LineMaxLength caps how many changed pixels a single Paint batch
	// carries before the caller is expected to flush.
	LineMaxLength int
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Port:                  DefaultPort,
		KeepAliveInterval:     DefaultKeepAliveInterval,
		KeepAliveTimeout:      DefaultKeepAliveTimeout,
		TokenOwnershipMaxTime: DefaultTokenOwnershipMaxTime,
		LineMaxLength:         DefaultLineMaxLength,
	}
}

// Verify checks that c describes a usable configuration.
func Verify(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrPort
	}
	if c.KeepAliveInterval <= 0 {
		return ErrKeepAliveInterval
	}
	if c.KeepAliveTimeout <= c.KeepAliveInterval {
		return ErrKeepAliveTimeout
	}
	if c.TokenOwnershipMaxTime <= 0 {
		return ErrTokenOwnershipMaxTime
	}
	if c.LineMaxLength <= 0 {
		return ErrLineMaxLength
	}
	return nil
}
