// Package websocket implements the WebSocket protocol defined in RFC 6455,
// with the permessage-deflate extension defined in RFC 7692.
//
// This package provides a complete WebSocket engine built around a typed
// message stream and sink rather than a single monolithic connection type:
//
//   - Server-side connection upgrading via Upgrader
//   - Client-side connection dialing via Dialer
//   - Per-message compression (permessage-deflate, RFC 7692) with configurable
//     context takeover and window bits
//   - A Session facade combining an independent reader pipeline and writer
//     pipeline over a shared Duplex
//
// The engine never opens a listening socket and never reads configuration
// from the environment; it is handed an already-connected Duplex (or, for
// the client, a URL to dial) and a SessionConfig. Composing the engine with
// net.Listener, tls.Config loading, and structured logging is left to the
// caller.
//
// Server Example:
//
//	var upgrader = websocket.Upgrader{
//	    SessionConfig: websocket.SessionConfig{MaxMessageSize: 1 << 20},
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    sess, err := upgrader.Upgrade(w, r, nil)
//	    if err != nil {
//	        return
//	    }
//	    defer sess.Close(websocket.CloseNormalClosure, "")
//
//	    for msg := range sess.Messages() {
//	        if msg.Err != nil {
//	            return
//	        }
//	        if err := sess.Send(msg.Message); err != nil {
//	            return
//	        }
//	    }
//	}
//
// Client Example:
//
//	sess, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(websocket.CloseNormalClosure, "")
//
//	err = sess.Send(websocket.Text("hello"))
//
// Concurrency:
//
// A Session runs its reader pipeline on a dedicated goroutine. Messages()
// returns a channel fed by that goroutine; ranging over it is the only
// supported way to consume inbound messages. Send, SendPing, and Close may
// be called from any number of goroutines — they serialize through a single
// writer object shared with the reader (which needs it to answer Ping and
// Close). Close is idempotent.
//
// Origin Checking:
//
// Web browsers allow any site to open a WebSocket connection to any other
// site. The server must validate the Origin header to prevent attacks. The
// Upgrader calls the CheckOrigin function to validate the request origin.
// If CheckOrigin is nil, the Upgrader uses a safe default that rejects
// cross-origin requests.
//
// Compression:
//
// Per-message compression is negotiated during the opening handshake when
// Compression.PermessageDeflate is set on the Upgrader or Dialer. Context
// takeover (whether the DEFLATE sliding window carries over between
// messages) and window bits are negotiated per RFC 7692 and recorded on
// ExtensionParams; see the package-level note on DeflateContext for the
// window-bits caveat imposed by compress/flate.
package websocket
