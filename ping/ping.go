// Package ping implements the Java-edition Server List Ping status query and
// the readiness prober built on top of it. A successful status response is
// the signal that the server is actually usable, as opposed to the container
// merely running: modded installs can spend minutes generating content while
// refusing connections.
package ping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Status is the service-level metadata returned by a status query.
type Status struct {
	Version       string `json:"version"`
	Protocol      int    `json:"protocol"`
	MOTD          string `json:"motd"`
	OnlinePlayers int    `json:"online_players"`
	MaxPlayers    int    `json:"max_players"`
	ModCount      int    `json:"mod_count"`
}

// StatusClient issues one application-level status query.
type StatusClient interface {
	Ping(ctx context.Context, addr string) (*Status, error)
}

type Client struct {
	Timeout time.Duration
}

func NewClient() *Client {
	return &Client{Timeout: 3 * time.Second}
}

// Ping performs handshake + status request against addr ("host:port") and
// decodes the JSON status response.
func (c *Client) Ping(ctx context.Context, addr string) (*Status, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	if err := writeHandshake(conn, host, uint16(port)); err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	// Status request: empty packet, id 0x00.
	if err := writePacket(conn, []byte{0x00}); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}

	payload, err := readPacket(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("status response failed: %w", err)
	}
	return decodeStatus(payload)
}

// writeHandshake sends packet 0x00: protocol version -1 (status query),
// server address, port, next state 1 (status).
func writeHandshake(w io.Writer, host string, port uint16) error {
	var body bytes.Buffer
	body.WriteByte(0x00)
	writeVarInt(&body, -1)
	writeVarInt(&body, int32(len(host)))
	body.WriteString(host)
	binary.Write(&body, binary.BigEndian, port)
	writeVarInt(&body, 1)
	return writePacket(w, body.Bytes())
}

func writePacket(w io.Writer, body []byte) error {
	var frame bytes.Buffer
	writeVarInt(&frame, int32(len(body)))
	frame.Write(body)
	_, err := w.Write(frame.Bytes())
	return err
}

func readPacket(r *bufio.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > 1<<21 {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	br := bufio.NewReader(bytes.NewReader(body))
	id, err := readVarInt(br)
	if err != nil {
		return nil, err
	}
	if id != 0x00 {
		return nil, fmt.Errorf("unexpected packet id 0x%02x", id)
	}

	strLen, err := readVarInt(br)
	if err != nil {
		return nil, err
	}
	if strLen < 0 || int(strLen) > len(body) {
		return nil, fmt.Errorf("invalid status string length %d", strLen)
	}
	payload := make([]byte, strLen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeVarInt(buf *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if u == 0 {
			return
		}
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}

// statusResponse mirrors the wire JSON. The description is either a plain
// string or a chat component object; chatText accepts both.
type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description chatText `json:"description"`
	ModInfo     struct {
		ModList []json.RawMessage `json:"modList"`
	} `json:"modinfo"`
	ForgeData struct {
		Mods []json.RawMessage `json:"mods"`
	} `json:"forgeData"`
}

type chatText string

func (c *chatText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = chatText(s)
		return nil
	}

	var obj struct {
		Text  string `json:"text"`
		Extra []struct {
			Text string `json:"text"`
		} `json:"extra"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	text := obj.Text
	for _, e := range obj.Extra {
		text += e.Text
	}
	*c = chatText(text)
	return nil
}

func decodeStatus(payload []byte) (*Status, error) {
	var resp statusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("invalid status payload: %w", err)
	}

	mods := len(resp.ModInfo.ModList)
	if mods == 0 {
		mods = len(resp.ForgeData.Mods)
	}

	return &Status{
		Version:       resp.Version.Name,
		Protocol:      resp.Version.Protocol,
		MOTD:          string(resp.Description),
		OnlinePlayers: resp.Players.Online,
		MaxPlayers:    resp.Players.Max,
		ModCount:      mods,
	}, nil
}
