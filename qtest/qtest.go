// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package qtest implements a client for the QEMU qtest protocol, a line
// based protocol that provides direct access to guest physical memory.
package qtest

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Error is returned when the server fails a command.
type Error struct {
	Command string
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

// Client is a qtest client. It is not safe for concurrent use. Every
// method is a synchronous round trip with no retry.
type Client struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
}

// NewClient returns a new client that communicates with the server over
// the supplied connection.
func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *Client) command(format string, args ...interface{}) ([]string, error) {
	cmd := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return nil, xerrors.Errorf("cannot send %q: %w", cmd, err)
	}

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, xerrors.Errorf("cannot read response to %q: %w", cmd, err)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "IRQ":
			// Asynchronous interrupt notification.
			continue
		case "OK":
			return fields[1:], nil
		case "FAIL":
			return nil, &Error{Command: cmd, Reason: strings.Join(fields[1:], " ")}
		default:
			return nil, fmt.Errorf("unexpected response to %q: %q", cmd, strings.TrimSpace(line))
		}
	}
}

// Readb reads a single byte of guest physical memory.
func (c *Client) Readb(addr uint32) (uint8, error) {
	resp, err := c.command("readb %#x", addr)
	if err != nil {
		return 0, err
	}
	if len(resp) != 1 {
		return 0, fmt.Errorf("unexpected readb response %q", resp)
	}

	v, err := strconv.ParseUint(resp[0], 0, 64)
	if err != nil {
		return 0, xerrors.Errorf("cannot decode readb response: %w", err)
	}
	if v > 0xff {
		return 0, fmt.Errorf("readb value %#x out of range", v)
	}
	return uint8(v), nil
}

// ReadAt implements io.ReaderAt by reading len(p) bytes of guest physical
// memory starting at off in a single command.
func (c *Client) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, xerrors.New("negative offset")
	}
	if len(p) == 0 {
		return 0, nil
	}

	resp, err := c.command("read %#x %#x", off, len(p))
	if err != nil {
		return 0, err
	}
	if len(resp) != 1 || !strings.HasPrefix(resp[0], "0x") {
		return 0, fmt.Errorf("unexpected read response %q", resp)
	}

	b, err := hex.DecodeString(resp[0][2:])
	if err != nil {
		return 0, xerrors.Errorf("cannot decode read response: %w", err)
	}
	if len(b) != len(p) {
		return 0, fmt.Errorf("read returned %d bytes, expected %d", len(b), len(p))
	}
	return copy(p, b), nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	return c.conn.Close()
}
