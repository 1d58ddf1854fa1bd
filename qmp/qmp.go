// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package qmp implements a client for the QEMU Machine Protocol, the JSON
// management channel of a running guest.
package qmp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

// ErrNoReturn is returned from Client.Execute when the response to a
// command contains neither a return value nor an error.
var ErrNoReturn = errors.New("response has no return value")

// Error is an error response to a command.
type Error struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Desc)
}

// Version is the QEMU version advertised in the greeting.
type Version struct {
	QEMU struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Micro int `json:"micro"`
	} `json:"qemu"`
	Package string `json:"package"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.QEMU.Major, v.QEMU.Minor, v.QEMU.Micro)
}

// Greeting is the message sent by the server when a client connects.
type Greeting struct {
	Version      Version  `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type message struct {
	QMP    *Greeting       `json:"QMP"`
	Event  string          `json:"event"`
	Return json.RawMessage `json:"return"`
	Error  *Error          `json:"error"`
}

type command struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// Client is a QMP client. It is not safe for concurrent use.
type Client struct {
	conn     io.ReadWriteCloser
	dec      *json.Decoder
	enc      *json.Encoder
	greeting *Greeting
}

// NewClient reads the server greeting from conn and leaves capabilities
// negotiation mode, after which commands can be executed.
func NewClient(conn io.ReadWriteCloser) (*Client, error) {
	c := &Client{
		conn: conn,
		dec:  json.NewDecoder(conn),
		enc:  json.NewEncoder(conn)}

	var m message
	if err := c.dec.Decode(&m); err != nil {
		return nil, xerrors.Errorf("cannot read greeting: %w", err)
	}
	if m.QMP == nil {
		return nil, errors.New("unexpected greeting")
	}
	c.greeting = m.QMP

	if _, err := c.Execute("qmp_capabilities", nil); err != nil {
		return nil, xerrors.Errorf("cannot negotiate capabilities: %w", err)
	}

	return c, nil
}

// Greeting returns the greeting sent by the server.
func (c *Client) Greeting() *Greeting {
	return c.greeting
}

// Execute runs the supplied command and returns the raw return value.
// Asynchronous events received while waiting for the response are
// discarded. If the server responds with an error, a *Error is returned.
// If the response has no return value, ErrNoReturn is returned.
func (c *Client) Execute(cmd string, arguments interface{}) (json.RawMessage, error) {
	if err := c.enc.Encode(&command{Execute: cmd, Arguments: arguments}); err != nil {
		return nil, xerrors.Errorf("cannot send command: %w", err)
	}

	for {
		var m message
		if err := c.dec.Decode(&m); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, xerrors.Errorf("cannot read response: %w", err)
		}

		switch {
		case m.Event != "":
			continue
		case m.Error != nil:
			return nil, m.Error
		case m.Return != nil:
			return m.Return, nil
		default:
			return nil, ErrNoReturn
		}
	}
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	return c.conn.Close()
}
