package websocket

import (
	"net/http"
	"time"
)

// Upgrader upgrades an incoming HTTP request to a WebSocket Session,
// implementing the server-side opening handshake of RFC 6455, section
// 4.2.2.
type Upgrader struct {
	// HandshakeTimeout bounds how long the upgrade response has to be
	// written. Zero means use the 5s default.
	HandshakeTimeout time.Duration

	// Subprotocols lists the server's supported subprotocols, in order of
	// preference; the first one also present in the client's
	// Sec-WebSocket-Protocol header is selected.
	Subprotocols []string

	// CheckOrigin decides whether to accept r's Origin header. A nil
	// CheckOrigin accepts only same-origin requests (or requests with no
	// Origin header at all), via checkSameOrigin.
	CheckOrigin func(r *http.Request) bool

	// Compression, if PermessageDeflate is true, is this server's policy
	// for negotiating permessage-deflate: it is merged against whatever
	// the client offered (mergeExtensions) to produce the session's
	// agreed ExtensionParams. A zero Compression leaves compression off
	// regardless of what the client offers.
	Compression ExtensionParams

	// SessionConfig seeds the Session built from a successful upgrade;
	// its Role and Extension fields are overwritten with RoleServer and
	// the negotiated extension parameters.
	SessionConfig SessionConfig

	// Error formats the HTTP error response for a rejected upgrade. A nil
	// Error calls http.Error with reason.Error().
	Error func(w http.ResponseWriter, r *http.Request, status int, reason error)
}

func (u *Upgrader) returnError(w http.ResponseWriter, r *http.Request, status int, reason error) error {
	if u.Error != nil {
		u.Error(w, r, status, reason)
	} else {
		http.Error(w, reason.Error(), status)
	}
	return wrapErr(KindHandshake, 0, reason)
}

// Upgrade validates r as a WebSocket opening handshake, hijacks the
// underlying connection, writes the 101 response, and returns a running
// Session. responseHeader, if non-nil, is copied verbatim into the 101
// response (e.g. for cookies the application wants to set).
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Session, error) {
	if !IsWebSocketUpgrade(r) {
		return nil, u.returnError(w, r, http.StatusBadRequest, ErrBadHandshake)
	}
	if r.Method != http.MethodGet {
		return nil, u.returnError(w, r, http.StatusMethodNotAllowed, ErrBadHandshake)
	}
	if r.Header.Get("Sec-WebSocket-Version") != websocketVersion {
		return nil, u.returnError(w, r, http.StatusUpgradeRequired, ErrUnsupportedVersion)
	}

	checkOrigin := u.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOrigin
	}
	if !checkOrigin(r) {
		return nil, u.returnError(w, r, http.StatusForbidden, ErrOriginNotAllowed)
	}

	challengeKey := r.Header.Get("Sec-WebSocket-Key")
	if challengeKey == "" {
		return nil, u.returnError(w, r, http.StatusBadRequest, ErrMissingKey)
	}

	requestedProtocols := Subprotocols(r)
	subprotocol := selectSubprotocol(requestedProtocols, u.Subprotocols)

	var agreed ExtensionParams
	if u.Compression.PermessageDeflate {
		offers := parseExtensionHeader(r.Header.Values("Sec-WebSocket-Extensions"))
		clientOffer, found, err := parsePermessageDeflate(offers)
		if err != nil {
			return nil, u.returnError(w, r, http.StatusBadRequest, err)
		}
		if found {
			agreed = mergeExtensions(u.Compression, clientOffer)
		}
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, u.returnError(w, r, http.StatusInternalServerError, ErrMalformedHandshake)
	}
	netConn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, u.returnError(w, r, http.StatusInternalServerError, err)
	}

	timeout := u.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	_ = netConn.SetWriteDeadline(timeToDeadline(timeout))

	buf := brw.Writer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: ")
	buf.WriteString(computeAcceptKey(challengeKey))
	buf.WriteString("\r\n")
	if subprotocol != "" {
		buf.WriteString("Sec-WebSocket-Protocol: ")
		buf.WriteString(subprotocol)
		buf.WriteString("\r\n")
	}
	if agreed.PermessageDeflate {
		buf.WriteString("Sec-WebSocket-Extensions: ")
		buf.WriteString(formatExtensionHeader(agreed))
		buf.WriteString("\r\n")
	}
	for k, vs := range responseHeader {
		for _, v := range vs {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")

	if err := buf.Flush(); err != nil {
		netConn.Close()
		return nil, err
	}
	_ = netConn.SetWriteDeadline(time.Time{})

	var d Duplex
	if brw.Reader.Buffered() > 0 {
		d = NewPipeDuplex(&bufferedConn{Conn: netConn, br: brw.Reader})
	} else {
		d = NewDuplex(netConn)
	}

	cfg := u.SessionConfig
	cfg.Role = RoleServer
	cfg.Extension = agreed

	return newSession(d, cfg), nil
}

func timeToDeadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
