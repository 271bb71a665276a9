// Package rcon implements the Source RCON protocol used by Minecraft
// servers for remote command execution.
//
// Packet layout, all integers little-endian:
//
//	4 bytes  length (excludes these 4 bytes)
//	4 bytes  request id
//	4 bytes  packet type
//	N bytes  payload
//	2 bytes  two null terminators
//
// Requests are strictly serialized per connection: the protocol correlates
// responses by arrival order plus the echoed request id, so there is no
// pipelining. A connection that has seen an authentication failure or a
// mismatched response id is dead and must be discarded, never retried in
// place, since a desynchronized session cannot be trusted to frame
// subsequent responses correctly.
package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	packetAuth        = 3
	packetExecCommand = 2
	packetResponseVal = 0
	maxPacketSize     = 4096
	minPacketSize     = 10
	authFailedID      = -1
)

var (
	ErrAuthFailed         = errors.New("rcon: authentication failed")
	ErrMismatchedResponse = errors.New("rcon: response id does not match request")
	ErrConnectionDead     = errors.New("rcon: connection is no longer usable")
)

type Client struct {
	mu   sync.Mutex
	conn net.Conn
	seq  int32
	dead bool

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial connects to addr and authenticates with password. Authentication
// failure is terminal for the connection; the caller must not retry with
// the same credential.
func Dial(addr, password string) (*Client, error) {
	c := &Client{
		seq:          1,
		dialTimeout:  5 * time.Second,
		readTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}

	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("rcon: connection failed: %w", err)
	}
	c.conn = conn

	if err := c.authenticate(password); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) authenticate(password string) error {
	authID := c.seq
	if err := c.send(packetAuth, password); err != nil {
		return err
	}

	respID, respType, _, err := c.receive()
	if err != nil {
		return err
	}
	if respID == authFailedID {
		return ErrAuthFailed
	}

	// Some servers send an empty RESPONSE_VALUE before the auth response.
	if respType == packetResponseVal {
		respID, _, _, err = c.receive()
		if err != nil {
			return err
		}
		if respID == authFailedID {
			return ErrAuthFailed
		}
	}

	if respID != authID {
		return ErrMismatchedResponse
	}
	return nil
}

// Execute sends one command and returns its response payload. Exactly one
// request is in flight at a time.
func (c *Client) Execute(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return "", ErrConnectionDead
	}

	reqID := c.seq
	if err := c.send(packetExecCommand, command); err != nil {
		c.dead = true
		return "", err
	}

	respID, _, payload, err := c.receive()
	if err != nil {
		c.dead = true
		return "", err
	}
	if respID != reqID {
		// Strict policy: the session is desynchronized, discard it.
		c.dead = true
		return "", fmt.Errorf("%w: got %d, want %d", ErrMismatchedResponse, respID, reqID)
	}

	return payload, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	return c.conn.Close()
}

func (c *Client) send(packetType int32, payload string) error {
	reqID := c.seq
	c.seq++

	// length = id(4) + type(4) + payload + null + null
	length := int32(4 + 4 + len(payload) + 2)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, length)
	binary.Write(&buf, binary.LittleEndian, reqID)
	binary.Write(&buf, binary.LittleEndian, packetType)
	buf.WriteString(payload)
	buf.Write([]byte{0, 0})

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("rcon: send failed: %w", err)
	}
	return nil
}

func (c *Client) receive() (id int32, packetType int32, payload string, err error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, 0, "", err
	}

	var length int32
	if err := binary.Read(c.conn, binary.LittleEndian, &length); err != nil {
		return 0, 0, "", fmt.Errorf("rcon: receive failed: %w", err)
	}
	if length < minPacketSize || length > maxPacketSize {
		return 0, 0, "", fmt.Errorf("rcon: invalid packet length %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return 0, 0, "", fmt.Errorf("rcon: receive failed: %w", err)
	}

	id = int32(binary.LittleEndian.Uint32(body[0:4]))
	packetType = int32(binary.LittleEndian.Uint32(body[4:8]))
	payload = string(bytes.TrimRight(body[8:length-2], "\x00"))
	return id, packetType, payload, nil
}
