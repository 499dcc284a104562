package websocket

import (
	"encoding/json"
	"io"
)

// WriteJSON writes the JSON encoding of v as a text message.
func (s *Session) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(Text(string(data)))
}

// ReadJSON reads the next message from the session and decodes it as
// JSON into v. Unlike Messages, which delivers every message including
// the terminal error, ReadJSON is for callers that want one blocking
// read-and-decode rather than a range loop.
func (s *Session) ReadJSON(v any) error {
	rec, ok := <-s.Messages()
	if !ok {
		return io.ErrUnexpectedEOF
	}
	if rec.Err != nil {
		return rec.Err
	}
	return json.Unmarshal(rec.Message.Payload, v)
}
