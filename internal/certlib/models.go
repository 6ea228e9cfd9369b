package certlib

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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Message types sent by a certstream server.
const (
	MessageHeartbeat         = "heartbeat"
	MessageCertificateUpdate = "certificate_update"
)

// DefaultFeedURL is the public certstream endpoint.
const DefaultFeedURL = "wss://certstream.calidog.io/"

// LeafCert is the leaf certificate as certstream renders it. Only the fields the
// miner reads are decoded; subject, extensions, validity and the rest of the
// object are skipped whatever their shape.
type LeafCert struct {
	Fingerprint string   `json:"fingerprint,omitempty"`
	AsDER       string   `json:"as_der,omitempty"`
	AllDomains  []string `json:"all_domains"`
}

// Source identifies the CT log the entry came from.
type Source struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// CertificateData is the "data" object of a certificate_update message.
type CertificateData struct {
	UpdateType string   `json:"update_type"`
	LeafCert   LeafCert `json:"leaf_cert"`
	Source     Source   `json:"source"`
}

// Message is one frame from the feed. Data is nil for heartbeats.
type Message struct {
	MessageType string           `json:"message_type"`
	Data        *CertificateData `json:"data,omitempty"`
}

// ParseMessage decodes a single JSON frame.
func ParseMessage(frame []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, fmt.Errorf("failed to decode feed message: %w", err)
	}
	if m.MessageType == "" {
		return nil, fmt.Errorf("failed to decode feed message: missing message_type")
	}
	return &m, nil
}

// IsHeartbeat reports whether the message is a keep-alive.
func (m *Message) IsHeartbeat() bool {
	return m.MessageType == MessageHeartbeat
}

// IsCertificateUpdate reports whether the message carries a certificate.
func (m *Message) IsCertificateUpdate() bool {
	return m.MessageType == MessageCertificateUpdate && m.Data != nil
}

// Domains returns the normalized leaf all_domains in feed order. Empty names are dropped.
func (m *Message) Domains() []string {
	if !m.IsCertificateUpdate() {
		return nil
	}
	all := m.Data.LeafCert.AllDomains
	out := make([]string, 0, len(all))
	for _, d := range all {
		if n := NormalizeDomain(d); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Chain returns a NON-CRYPTOGRAPHIC hash (xxh3) of the base64 DER, used to tag debug log lines.
func (c *CertificateData) Chain() string {
	if c.LeafCert.AsDER == "" {
		return c.LeafCert.Fingerprint
	}
	return fmt.Sprintf("%x", xxh3.HashString(c.LeafCert.AsDER))
}

// NormalizeDomain trims whitespace and surrounding dots. Case is left as delivered
// because labels are counted case-sensitively. Names with inner whitespace are junk and yield "".
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.ContainsAny(domain, " \t\r\n") {
		return ""
	}
	domain = strings.Trim(domain, ".")
	return domain
}
