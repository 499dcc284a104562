package websocket

import (
	"strconv"
	"strings"
)

// ExtensionParams holds the negotiated permessage-deflate configuration
// for a session (RFC 7692, section 7). It is the output of merging a
// server's policy against a client's offer (mergeExtensions), or of
// parsing a single side's offer/response when acting on the other role.
type ExtensionParams struct {
	PermessageDeflate       bool
	ClientNoContextTakeover bool
	ServerNoContextTakeover bool
	ClientMaxWindowBits     int
	ServerMaxWindowBits     int
}

// extensionOffer is one `;`-separated Sec-WebSocket-Extensions entry,
// e.g. "permessage-deflate; client_no_context_takeover; server_max_window_bits=10".
type extensionOffer struct {
	name   string
	params map[string]string
}

// parseExtensionHeader parses every Sec-WebSocket-Extensions header value
// per RFC 6455, section 9.1 (extensions are comma-separated; each
// extension's parameters are semicolon-separated).
func parseExtensionHeader(values []string) []extensionOffer {
	var offers []extensionOffer
	for _, v := range values {
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.Split(entry, ";")
			o := extensionOffer{name: strings.TrimSpace(parts[0]), params: make(map[string]string)}
			for _, p := range parts[1:] {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				if idx := strings.IndexByte(p, '='); idx >= 0 {
					o.params[strings.TrimSpace(p[:idx])] = strings.Trim(strings.TrimSpace(p[idx+1:]), `"`)
				} else {
					o.params[p] = ""
				}
			}
			offers = append(offers, o)
		}
	}
	return offers
}

// parsePermessageDeflate extracts a permessage-deflate offer from parsed
// extension entries into ExtensionParams, or reports found=false if no
// such extension was offered.
func parsePermessageDeflate(offers []extensionOffer) (params ExtensionParams, found bool, err error) {
	for _, o := range offers {
		if o.name != "permessage-deflate" {
			continue
		}
		params.PermessageDeflate = true
		if _, ok := o.params["client_no_context_takeover"]; ok {
			params.ClientNoContextTakeover = true
		}
		if _, ok := o.params["server_no_context_takeover"]; ok {
			params.ServerNoContextTakeover = true
		}
		params.ClientMaxWindowBits = maxWindowBits
		if v, ok := o.params["client_max_window_bits"]; ok {
			bits, perr := parseWindowBits(v)
			if perr != nil {
				return ExtensionParams{}, false, perr
			}
			params.ClientMaxWindowBits = bits
		}
		params.ServerMaxWindowBits = maxWindowBits
		if v, ok := o.params["server_max_window_bits"]; ok {
			bits, perr := parseWindowBits(v)
			if perr != nil {
				return ExtensionParams{}, false, perr
			}
			params.ServerMaxWindowBits = bits
		}
		return params, true, nil
	}
	return ExtensionParams{}, false, nil
}

// parseWindowBits parses a *_max_window_bits value. An empty value (the
// bare parameter name, signaling "client will choose") is treated as the
// RFC default of 15.
func parseWindowBits(v string) (int, error) {
	if v == "" {
		return maxWindowBits, nil
	}
	bits, err := strconv.Atoi(v)
	if err != nil || bits < minWindowBits || bits > maxWindowBits {
		return 0, wrapErr(KindHandshake, 0, ErrInvalidWindowBits)
	}
	return bits, nil
}

// mergeExtensions implements the server-side policy ∧ client-offer merge
// rule: permessage_deflate agreed iff both offered it; each
// no_context_takeover flag agreed iff both sides set it; each
// max_window_bits takes the min of whichever side(s) specified it,
// defaulting to 15 if neither did.
func mergeExtensions(serverPolicy, clientOffer ExtensionParams) ExtensionParams {
	if !serverPolicy.PermessageDeflate || !clientOffer.PermessageDeflate {
		return ExtensionParams{}
	}
	return ExtensionParams{
		PermessageDeflate:       true,
		ClientNoContextTakeover: serverPolicy.ClientNoContextTakeover && clientOffer.ClientNoContextTakeover,
		ServerNoContextTakeover: serverPolicy.ServerNoContextTakeover && clientOffer.ServerNoContextTakeover,
		ClientMaxWindowBits:     minWindowBitsOf(serverPolicy.ClientMaxWindowBits, clientOffer.ClientMaxWindowBits),
		ServerMaxWindowBits:     minWindowBitsOf(serverPolicy.ServerMaxWindowBits, clientOffer.ServerMaxWindowBits),
	}
}

func minWindowBitsOf(a, b int) int {
	if a == 0 {
		a = maxWindowBits
	}
	if b == 0 {
		b = maxWindowBits
	}
	if a < b {
		return a
	}
	return b
}

// formatExtensionHeader builds the Sec-WebSocket-Extensions header value
// for an agreed (or offered) ExtensionParams. Non-default parameters are
// enumerated per RFC 7692, section 7.1.
func formatExtensionHeader(p ExtensionParams) string {
	if !p.PermessageDeflate {
		return ""
	}
	var b strings.Builder
	b.WriteString("permessage-deflate")
	if p.ClientNoContextTakeover {
		b.WriteString("; client_no_context_takeover")
	}
	if p.ServerNoContextTakeover {
		b.WriteString("; server_no_context_takeover")
	}
	if p.ClientMaxWindowBits != 0 && p.ClientMaxWindowBits != maxWindowBits {
		b.WriteString("; client_max_window_bits=")
		b.WriteString(strconv.Itoa(p.ClientMaxWindowBits))
	}
	if p.ServerMaxWindowBits != 0 && p.ServerMaxWindowBits != maxWindowBits {
		b.WriteString("; server_max_window_bits=")
		b.WriteString(strconv.Itoa(p.ServerMaxWindowBits))
	}
	return b.String()
}
