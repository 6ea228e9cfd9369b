package client

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client builds the websocket dialer used to subscribe to the certstream feed.
It mirrors the usual transport knobs (dial and handshake timeouts, TCP keep-alive,
proxy from the environment) so the feed connection behaves like any other outbound
connection of the process.
*/

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// defaultDialTimeout specifies the default timeout for establishing the TCP connection.
	defaultDialTimeout = 10 * time.Second
	// defaultKeepAliveTimeout specifies the keep-alive period for the feed connection.
	defaultKeepAliveTimeout = 60 * time.Second
	// defaultHandshakeTimeout bounds the TLS + websocket upgrade handshake.
	defaultHandshakeTimeout = 15 * time.Second
	// Certificate frames are a few KiB; chains with many SANs go well beyond that.
	defaultReadBufferSize  = 64 << 10
	defaultWriteBufferSize = 4 << 10
	defaultUserAgent       = "substream"
)

// DialerConfig holds the feed connection parameters.
// A zero-value DialerConfig results in default settings being used.
type DialerConfig struct {
	DialTimeout      time.Duration
	KeepAliveTimeout time.Duration
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// EnableCompression negotiates permessage-deflate with the server.
	EnableCompression bool
	UserAgent         string
}

// DefaultDialerConfig returns a DialerConfig populated with default settings.
func DefaultDialerConfig() *DialerConfig {
	return &DialerConfig{
		DialTimeout:       defaultDialTimeout,
		KeepAliveTimeout:  defaultKeepAliveTimeout,
		HandshakeTimeout:  defaultHandshakeTimeout,
		ReadBufferSize:    defaultReadBufferSize,
		WriteBufferSize:   defaultWriteBufferSize,
		EnableCompression: true,
		UserAgent:         defaultUserAgent,
	}
}

// NewDialer builds a *websocket.Dialer from config. A nil config uses DefaultDialerConfig;
// zero fields are filled with defaults.
func NewDialer(config *DialerConfig) *websocket.Dialer {
	if config == nil {
		config = DefaultDialerConfig()
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = defaultReadBufferSize
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = defaultWriteBufferSize
	}

	return &websocket.Dialer{
		Proxy: http.ProxyFromEnvironment, // Respect standard proxy environment variables.
		NetDialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
		HandshakeTimeout:  config.HandshakeTimeout,
		ReadBufferSize:    config.ReadBufferSize,
		WriteBufferSize:   config.WriteBufferSize,
		EnableCompression: config.EnableCompression,
	}
}

// Header returns the request headers sent with the upgrade request.
func Header(config *DialerConfig) http.Header {
	h := http.Header{}
	ua := defaultUserAgent
	if config != nil && config.UserAgent != "" {
		ua = config.UserAgent
	}
	h.Set("User-Agent", ua)
	return h
}
