// Package ssdp implements the discovery engine: the line-oriented
// packet parser and validator, USN/NT/ST decomposition, multicast
// socket set, and the control-point/device search and advertisement
// routines built on top of them.
//
// The parser builds a case-insensitive header map line by line rather
// than a regexp-per-header approach — SSDP datagrams are small and
// parsed once per packet, so a single split pass is simpler.
package ssdp

import (
	"errors"
	"strconv"
	"strings"
)

// Packet is a parsed SSDP datagram (the data model's SsdpPacket).
type Packet struct {
	IsResponse bool
	Method     string // "NOTIFY" or "M-SEARCH" for requests
	URL        string // "*" for requests
	Proto      string // e.g. "HTTP/1.1"
	Status     int    // for responses
	Phrase     string // for responses

	Headers map[string]string // lower-cased header name -> trimmed value
}

// Recognized SSDP headers, per the discovery protocol.
var recognizedHeaders = map[string]bool{
	"cache-control": true,
	"date":          true,
	"ext":           true,
	"host":          true,
	"location":      true,
	"man":           true,
	"mx":            true,
	"nt":            true,
	"nts":           true,
	"server":        true,
	"st":            true,
	"user-agent":    true,
	"usn":           true,
}

// ErrMalformed is returned by Parse for any datagram that doesn't fit
// the SSDP line/header/blank-line shape.
var ErrMalformed = errors.New("ssdp: malformed packet")

// Header looks up a recognized header case-insensitively; the caller
// is expected to pass an already-lower-cased key for speed, but Header
// lower-cases defensively since callers receive names from user input.
func (p *Packet) Header(name string) (string, bool) {
	v, ok := p.Headers[strings.ToLower(name)]
	return v, ok
}

// Parse decodes a CRLF-terminated SSDP datagram. The returned Packet's
// string fields point into copies taken during parsing; buf itself is
// not retained.
func Parse(buf []byte) (*Packet, error) {
	text := string(buf)
	// Datagrams may arrive null-terminated after truncation to the
	// engine's receive-buffer ceiling (the discovery protocol); trim the tail.
	if i := strings.IndexByte(text, 0x00); i >= 0 {
		text = text[:i]
	}

	lines, ok := splitCRLFLines(text)
	if !ok {
		return nil, ErrMalformed
	}
	if len(lines) == 0 {
		return nil, ErrMalformed
	}

	p := &Packet{Headers: make(map[string]string)}
	if err := parseStartLine(lines[0], p); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, ErrMalformed
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if recognizedHeaders[name] {
			p.Headers[name] = value
		}
	}

	return p, nil
}

// splitCRLFLines splits text on "\r\n" and requires the datagram to
// end with the blank line the discovery protocol mandates (two consecutive
// CRLFs). The trailing empty strings produced by the final blank line
// and end-of-string are dropped from the returned slice.
func splitCRLFLines(text string) ([]string, bool) {
	if !strings.HasSuffix(text, "\r\n\r\n") {
		return nil, false
	}
	trimmed := strings.TrimSuffix(text, "\r\n\r\n")
	if trimmed == "" {
		return nil, false
	}
	return strings.Split(trimmed, "\r\n"), true
}

func parseStartLine(line string, p *Packet) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return ErrMalformed
	}

	if strings.HasPrefix(fields[0], "HTTP/") {
		p.IsResponse = true
		p.Proto = fields[0]
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			return ErrMalformed
		}
		p.Status = status
		p.Phrase = fields[2]
		return nil
	}

	p.Method = fields[0]
	p.URL = fields[1]
	p.Proto = fields[2]
	return nil
}

// Render serializes p back to wire form, used by tests to check
// parse(render(p)) == p round-tripping (the test scenarios) and by the
// advertise/reply senders to build outbound datagrams.
func (p *Packet) Render() string {
	var b strings.Builder
	if p.IsResponse {
		b.WriteString(p.Proto)
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(p.Status))
		b.WriteByte(' ')
		b.WriteString(p.Phrase)
	} else {
		b.WriteString(p.Method)
		b.WriteByte(' ')
		b.WriteString(p.URL)
		b.WriteByte(' ')
		b.WriteString(p.Proto)
	}
	b.WriteString("\r\n")

	for _, name := range orderedHeaderNames(p.Headers) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(p.Headers[name])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// orderedHeaderNames returns header names in a fixed order, omitting
// any not present. A stable order keeps Render's output deterministic
// for tests.
func orderedHeaderNames(headers map[string]string) []string {
	order := []string{"cache-control", "date", "ext", "host", "location", "man", "mx", "nt", "nts", "server", "st", "user-agent", "usn"}
	out := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := headers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// RequestHost values SSDP multicast requests/advertisements must bear
// (the discovery protocol).
const (
	HostIPv4       = "239.255.255.250:1900"
	HostIPv6Link   = "[FF02::C]:1900"
	HostIPv6Site   = "[FF05::C]:1900"
	SSDPPort       = 1900
	GroupIPv4      = "239.255.255.250"
	GroupIPv6Link  = "ff02::c"
	GroupIPv6Site  = "ff05::c"
)

func isValidHost(host string) bool {
	return host == HostIPv4 || strings.EqualFold(host, HostIPv6Link) || strings.EqualFold(host, HostIPv6Site)
}

// ValidateRequest applies the discovery protocol's request-validation rules.
// Rejection means the caller should silently drop the datagram.
func ValidateRequest(p *Packet) bool {
	if p.IsResponse {
		return false
	}
	if p.Method != "NOTIFY" && p.Method != "M-SEARCH" {
		return false
	}
	if p.URL != "*" {
		return false
	}
	host, ok := p.Header("host")
	if !ok || !isValidHost(host) {
		return false
	}

	if p.Method == "M-SEARCH" {
		man, ok := p.Header("man")
		if !ok || man != `"ssdp:discover"` {
			return false
		}
		mx, ok := p.Header("mx")
		if !ok {
			return false
		}
		if n, err := strconv.Atoi(mx); err != nil || n <= 0 {
			return false
		}
		st, ok := p.Header("st")
		if !ok {
			return false
		}
		if _, err := Classify(st); err != nil {
			return false
		}
		return true
	}

	// NOTIFY (advertisement)
	nts, ok := p.Header("nts")
	if !ok || (nts != "ssdp:alive" && nts != "ssdp:byebye") {
		return false
	}
	if nts == "ssdp:alive" {
		if _, ok := p.Header("location"); !ok {
			return false
		}
		usn, ok := p.Header("usn")
		if !ok {
			return false
		}
		if _, err := Classify(usn); err != nil {
			return false
		}
		nt, ok := p.Header("nt")
		if !ok {
			return false
		}
		if _, err := Classify(nt); err != nil {
			return false
		}
		if maxAge, ok := parseMaxAge(p); !ok || maxAge <= 0 {
			return false
		}
	}
	return true
}

// ValidateSearchResponse applies the discovery protocol's M-SEARCH response
// rules.
func ValidateSearchResponse(p *Packet) bool {
	if !p.IsResponse || p.Status != 200 {
		return false
	}
	if _, ok := p.Header("location"); !ok {
		return false
	}
	if maxAge, ok := parseMaxAge(p); !ok || maxAge <= 0 {
		return false
	}
	usn, ok := p.Header("usn")
	if !ok {
		return false
	}
	if _, err := Classify(usn); err != nil {
		return false
	}
	st, ok := p.Header("st")
	if !ok {
		return false
	}
	if _, err := Classify(st); err != nil {
		return false
	}
	return true
}

// parseMaxAge extracts the integer max-age from a "max-age=N"
// CACHE-CONTROL value.
func parseMaxAge(p *Packet) (int, bool) {
	cc, ok := p.Header("cache-control")
	if !ok {
		return 0, false
	}
	idx := strings.Index(strings.ToLower(cc), "max-age=")
	if idx < 0 {
		return 0, false
	}
	rest := cc[idx+len("max-age="):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
