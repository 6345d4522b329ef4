package ssdp

import (
	"errors"
	"strconv"
	"strings"
)

// RequestType classifies a decomposed USN/NT/ST value (the discovery protocol).
type RequestType int

const (
	TypeALL RequestType = iota
	TypeROOTDEVICE
	TypeDEVICEUDN
	TypeDEVICETYPE
	TypeSERVICE
)

// ErrUnrecognizedForm is returned by Classify when the input matches
// none of the discovery protocol's recognized USN/NT/ST shapes.
var ErrUnrecognizedForm = errors.New("ssdp: unrecognized USN/NT/ST form")

// Decomposed holds the fields Classify extracts, filled as available.
type Decomposed struct {
	Type        RequestType
	UDN         string
	DeviceType  string
	ServiceType string
}

// Classify decomposes one of the recognized forms:
//
//	uuid:UUID
//	uuid:UUID::upnp:rootdevice
//	uuid:UUID::urn:<domain>:device:<type>:<v>
//	uuid:UUID::urn:<domain>:service:<type>:<v>
//	upnp:rootdevice
//	urn:<domain>:device:<type>:<v>
//	urn:<domain>:service:<type>:<v>
//	ssdp:all
func Classify(s string) (Decomposed, error) {
	switch {
	case s == "ssdp:all":
		return Decomposed{Type: TypeALL}, nil
	case s == "upnp:rootdevice":
		return Decomposed{Type: TypeROOTDEVICE}, nil
	case strings.HasPrefix(s, "uuid:"):
		return classifyUUIDForm(s)
	case strings.HasPrefix(s, "urn:"):
		return classifyURN(s, "")
	default:
		return Decomposed{}, ErrUnrecognizedForm
	}
}

func classifyUUIDForm(s string) (Decomposed, error) {
	rest := s[len("uuid:"):]
	if idx := strings.Index(rest, "::"); idx >= 0 {
		udn := "uuid:" + rest[:idx]
		suffix := rest[idx+2:]
		switch {
		case suffix == "upnp:rootdevice":
			return Decomposed{Type: TypeROOTDEVICE, UDN: udn}, nil
		case strings.HasPrefix(suffix, "urn:"):
			d, err := classifyURN(suffix, udn)
			return d, err
		default:
			return Decomposed{}, ErrUnrecognizedForm
		}
	}
	if rest == "" {
		return Decomposed{}, ErrUnrecognizedForm
	}
	return Decomposed{Type: TypeDEVICEUDN, UDN: "uuid:" + rest}, nil
}

// classifyURN parses "urn:<domain>:device:<type>:<v>" or
// "urn:<domain>:service:<type>:<v>", attaching udn if non-empty (the
// uuid:UUID::urn:... compound form).
func classifyURN(s string, udn string) (Decomposed, error) {
	parts := strings.Split(s, ":")
	// ["urn", domain, "device"|"service", type, version]
	if len(parts) != 5 || parts[0] != "urn" {
		return Decomposed{}, ErrUnrecognizedForm
	}
	kind := parts[2]
	switch kind {
	case "device":
		return Decomposed{Type: TypeDEVICETYPE, UDN: udn, DeviceType: s}, nil
	case "service":
		return Decomposed{Type: TypeSERVICE, UDN: udn, ServiceType: s}, nil
	default:
		return Decomposed{}, ErrUnrecognizedForm
	}
}

// versionSuffix extracts the trailing integer version from a
// urn:<domain>:device|service:<type>:<v> string.
func versionSuffix(urn string) (int, bool) {
	idx := strings.LastIndex(urn, ":")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(urn[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MatchSearchArg implements the discovery protocol's reply-matching rule between
// an inbound advertisement/response's parsed type (adv) and an active
// client SsdpSearchArg's requested type (req, along with the original
// search-target text reqTarget).
func MatchSearchArg(reqType RequestType, reqTarget string, adv Decomposed, advTarget string) bool {
	switch reqType {
	case TypeALL:
		return true
	case TypeROOTDEVICE:
		return adv.Type == TypeROOTDEVICE
	case TypeDEVICEUDN:
		return len(advTarget) >= len(reqTarget) && advTarget[:len(reqTarget)] == reqTarget
	case TypeDEVICETYPE, TypeSERVICE:
		n := min(len(reqTarget), len(advTarget))
		return reqTarget[:n] == advTarget[:n]
	default:
		return false
	}
}

// MatchVersioned implements the discovery protocol's version-matching rule for
// DEVICETYPE/SERVICE searches: reqV is the integer version suffix of
// the searched type, locV of the locally-advertised type.
//
// Returns (shouldReply, useLowerDescriptionURL).
func MatchVersioned(reqTarget, localTarget string) (shouldReply bool, useLowerURL bool) {
	reqV, ok1 := versionSuffix(reqTarget)
	locV, ok2 := versionSuffix(localTarget)
	if !ok1 || !ok2 {
		return false, false
	}
	switch {
	case reqV < locV:
		return true, true
	case reqV == locV:
		return true, false
	default:
		return false, false
	}
}
