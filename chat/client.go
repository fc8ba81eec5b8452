package chat

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/corvid-systems/rtp/transport"
)

// Client wraps one established transport.Connection with the chat
// wire protocol, grounded on chat_client.py's login/join/send/dm
// helpers (there collapsed into inline json.dumps calls before each
// protocol.send_msg).
type Client struct {
	conn *transport.Connection
	room string
}

// Dial performs the transport handshake against addr and wraps the
// resulting connection.
func Dial(ep *transport.Endpoint, addr string) (*Client, error) {
	conn, err := ep.Connect(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	return &Client{conn: conn, room: GeneralRoom}, nil
}

// ConnID returns the underlying connection's identifier.
func (c *Client) ConnID() uint32 { return c.conn.ConnID() }

// Room returns the room the client most recently joined.
func (c *Client) Room() string { return c.room }

// Close ends the connection gracefully.
func (c *Client) Close() error { return c.conn.Close() }

// Login sends the LOGIN handshake message (chat_client.py's
// login_packet, sent once before any room traffic).
func (c *Client) Login(name string) error {
	return c.send(Envelope{Type: TypeLogin, Name: name})
}

// Join requests membership in room (chat_client.py's "/join" command
// and its post-login auto-join of "general"). The client's notion of
// its current room only updates once the server confirms — see
// SetRoom — matching chat_client.py's "Don't update current_room
// until server confirms".
func (c *Client) Join(room string) error {
	return c.send(Envelope{Type: TypeJoin, Room: room})
}

// SetRoom records the room the server has confirmed membership in.
func (c *Client) SetRoom(room string) { c.room = room }

// Leave removes the client from room.
func (c *Client) Leave(room string) error {
	return c.send(Envelope{Type: TypeLeave, Room: room})
}

// Send posts a chat message to the client's current room
// (chat_client.py's default, non-slash-command input path).
func (c *Client) Send(text string) error {
	return c.send(Envelope{Type: TypeMsg, Room: c.room, Text: text})
}

// DM sends a private message to target (chat_client.py's "/dm"
// command).
func (c *Client) DM(target, text string) error {
	return c.send(Envelope{Type: TypeDM, Target: target, Text: text})
}

// Recv blocks for the next server envelope.
func (c *Client) Recv() (Envelope, error) {
	payload, err := c.conn.Recv()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decoding server envelope")
	}
	return env, nil
}

func (c *Client) send(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encoding envelope")
	}
	return c.conn.SendMsg(payload)
}
