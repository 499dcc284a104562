package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultDialer is a Dialer with every field at its zero value.
var DefaultDialer = &Dialer{}

// Dialer holds the options for connecting to a WebSocket server. It
// dials directly — no http.Client-mediated transport selection, no
// HTTP/2 bootstrapping (RFC 8441), no HTTP CONNECT proxy tunneling.
type Dialer struct {
	// TLSClientConfig is used for wss:// targets. A nil config dials with
	// the standard library's zero-value defaults.
	TLSClientConfig *tls.Config

	// NetDialContext overrides how the TCP connection is established. A
	// nil value uses a zero-value net.Dialer.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// HandshakeTimeout bounds the whole opening handshake, from dial
	// through reading the response headers. Zero means use the 5s
	// default.
	HandshakeTimeout time.Duration

	// Subprotocols lists the client's requested subprotocols in order of
	// preference.
	Subprotocols []string

	// Compression, if PermessageDeflate is true, is offered to the
	// server as this client's policy; the server's response (echoed back
	// in Sec-WebSocket-Extensions) becomes the session's agreed
	// ExtensionParams.
	Compression ExtensionParams

	// SessionConfig seeds the Session built from a successful dial; its
	// Role and Extension fields are overwritten with RoleClient and the
	// negotiated extension parameters.
	SessionConfig SessionConfig
}

// Dial is shorthand for DialContext with context.Background().
func (d *Dialer) Dial(urlStr string, requestHeader http.Header) (*Session, *http.Response, error) {
	return d.DialContext(context.Background(), urlStr, requestHeader)
}

// DialContext performs the client-side opening handshake of RFC 6455,
// section 4.1: it dials the target directly (TLS for wss://, plain TCP
// for ws://), writes the HTTP/1.1 upgrade request, and validates the
// server's 101 response before handing back a running Session.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*Session, *http.Response, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, err
	}

	var isTLS bool
	switch u.Scheme {
	case "ws":
		isTLS = false
	case "wss":
		isTLS = true
	default:
		return nil, nil, wrapErr(KindHandshake, 0, ErrUnsupportedScheme)
	}
	if u.Host == "" {
		return nil, nil, wrapErr(KindHandshake, 0, ErrMalformedHandshake)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	netConn, err := d.dial(dialCtx, u, isTLS)
	if err != nil {
		return nil, nil, err
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	sess, resp, err := d.handshake(netConn, u, requestHeader)
	if err != nil {
		netConn.Close()
		return nil, resp, err
	}
	_ = netConn.SetDeadline(time.Time{})

	return sess, resp, nil
}

func (d *Dialer) dial(ctx context.Context, u *url.URL, isTLS bool) (net.Conn, error) {
	hostPort := hostPortFromURL(u)

	dial := d.NetDialContext
	if dial == nil {
		var nd net.Dialer
		dial = nd.DialContext
	}

	if !isTLS {
		return dial(ctx, "tcp", hostPort)
	}

	rawConn, err := dial(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}

	tlsConfig := d.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = u.Hostname()
	}

	tlsConn := tls.Client(rawConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func hostPortFromURL(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "wss" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func (d *Dialer) handshake(netConn net.Conn, u *url.URL, requestHeader http.Header) (*Session, *http.Response, error) {
	challengeKey, err := generateChallengeKey()
	if err != nil {
		return nil, nil, err
	}

	reqURL := *u
	switch reqURL.Scheme {
	case "ws":
		reqURL.Scheme = "http"
	case "wss":
		reqURL.Scheme = "https"
	}

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &reqURL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for k, vs := range requestHeader {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", challengeKey)
	req.Header.Set("Sec-WebSocket-Version", websocketVersion)
	if len(d.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(d.Subprotocols, ", "))
	}
	if d.Compression.PermessageDeflate {
		req.Header.Set("Sec-WebSocket-Extensions", formatExtensionHeader(d.Compression))
	}

	if err := req.Write(netConn); err != nil {
		return nil, nil, err
	}

	// The limit covers the response headers only; it is lifted once they
	// are parsed, since br keeps serving the session's reads afterwards.
	lr := &io.LimitedReader{R: netConn, N: maxHandshakeHeaderBytes}
	br := bufio.NewReaderSize(lr, maxHandshakeHeaderBytes)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, err
	}
	lr.N = 1<<63 - 1

	if resp.StatusCode != http.StatusSwitchingProtocols {
		defer resp.Body.Close()
		return nil, resp, wrapErr(KindHandshake, 0, ErrBadHandshake)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") ||
		!strings.EqualFold(resp.Header.Get("Connection"), "upgrade") {
		return nil, resp, wrapErr(KindHandshake, 0, ErrBadHandshake)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(challengeKey) {
		return nil, resp, wrapErr(KindHandshake, 0, ErrInvalidAcceptKey)
	}

	subprotocol := resp.Header.Get("Sec-WebSocket-Protocol")
	if !subprotocolAccepted(subprotocol, d.Subprotocols) {
		return nil, resp, wrapErr(KindHandshake, 0, ErrBadHandshake)
	}

	var agreed ExtensionParams
	if d.Compression.PermessageDeflate {
		offers := parseExtensionHeader(resp.Header.Values("Sec-WebSocket-Extensions"))
		serverResponse, found, perr := parsePermessageDeflate(offers)
		if perr != nil {
			return nil, resp, perr
		}
		if found {
			agreed = serverResponse
			agreed.PermessageDeflate = true
		}
	}

	var d2 Duplex
	if br.Buffered() > 0 {
		d2 = NewPipeDuplex(&bufferedConn{Conn: netConn, br: br})
	} else {
		d2 = NewDuplex(netConn)
	}

	cfg := d.SessionConfig
	cfg.Role = RoleClient
	cfg.Extension = agreed

	return newSession(d2, cfg), resp, nil
}

var _ io.ReadWriteCloser = (*bufferedConn)(nil)
