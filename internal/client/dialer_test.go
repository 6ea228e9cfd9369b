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

import (
	"testing"
)

func TestNewDialerFillsDefaults(t *testing.T) {
	d := NewDialer(&DialerConfig{})

	if d.HandshakeTimeout != defaultHandshakeTimeout {
		t.Fatalf("expected HandshakeTimeout defaulted, got %v", d.HandshakeTimeout)
	}
	if d.ReadBufferSize != defaultReadBufferSize {
		t.Fatalf("expected ReadBufferSize defaulted, got %d", d.ReadBufferSize)
	}
	if d.WriteBufferSize != defaultWriteBufferSize {
		t.Fatalf("expected WriteBufferSize defaulted, got %d", d.WriteBufferSize)
	}
	if d.NetDialContext == nil {
		t.Fatalf("expected NetDialContext set")
	}
	if d.Proxy == nil {
		t.Fatalf("expected Proxy set")
	}
	if d.EnableCompression {
		t.Fatalf("compression is opt-in on an explicit config")
	}
}

func TestNewDialerNilUsesDefaults(t *testing.T) {
	d := NewDialer(nil)
	if !d.EnableCompression {
		t.Fatalf("default config should enable compression")
	}
}

func TestHeaderUserAgent(t *testing.T) {
	if got := Header(nil).Get("User-Agent"); got != defaultUserAgent {
		t.Fatalf("User-Agent = %q; want %q", got, defaultUserAgent)
	}
	if got := Header(&DialerConfig{UserAgent: "substream-test/1"}).Get("User-Agent"); got != "substream-test/1" {
		t.Fatalf("User-Agent = %q; want substream-test/1", got)
	}
}
