// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package qemu launches QEMU guests with VM generation ID devices, and
// connects to their qtest and QMP sockets. It expects the QEMU binary to be
// present on the system.
package qemu

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid/qmp"
	"github.com/canonical/go-vmgenid/qtest"
)

const (
	DefaultBinary          = "qemu-system-x86_64"
	DefaultAccel           = "tcg"
	DefaultLaunchTimeout   = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second

	qtestSocketName = "qtest.sock"
	qmpSocketName   = "qmp.sock"
)

// Config describes a guest to launch.
type Config struct {
	Binary  string // Defaults to DefaultBinary
	Accel   string // Defaults to DefaultAccel
	Devices []VMGenIDDevice

	// ExtraArgs are appended to the command line.
	ExtraArgs []string

	LaunchTimeout   time.Duration
	ShutdownTimeout time.Duration

	// Stderr receives the standard error of the QEMU process in addition
	// to the copy that is kept for error messages.
	Stderr io.Writer

	Logger *slog.Logger
}

func (c *Config) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c *Config) accel() string {
	if c.Accel == "" {
		return DefaultAccel
	}
	return c.Accel
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Args returns the QEMU command line for this configuration, where QEMU
// connects to a qtest server at qtestSocket and a QMP server at qmpSocket.
func (c *Config) Args(qtestSocket, qmpSocket string) []string {
	args := []string{
		"-qtest", "unix:" + qtestSocket,
		"-qtest-log", "/dev/null",
		"-chardev", "socket,path=" + qmpSocket + ",id=char0",
		"-mon", "chardev=char0,mode=control",
		"-display", "none",
		"-machine", "accel=" + c.accel(),
	}
	for i := range c.Devices {
		args = append(args, "-device", c.Devices[i].String())
	}
	return append(args, c.ExtraArgs...)
}

// Instance is a running guest.
type Instance struct {
	pid             int
	dir             string
	stderr          *bytes.Buffer
	shutdownTimeout time.Duration
	logger          *slog.Logger

	memory  *qtest.Client
	monitor *qmp.Client

	done    chan struct{}
	waitErr error
}

// Launch starts a guest with the supplied configuration and waits for it
// to connect to the qtest and QMP sockets. The caller must call Close on
// the returned instance, including when a test using it fails.
func Launch(config *Config) (*Instance, error) {
	for i := range config.Devices {
		if err := config.Devices[i].Validate(); err != nil {
			return nil, xerrors.Errorf("invalid device %d: %w", i, err)
		}
	}

	logger := config.logger()

	dir, err := os.MkdirTemp("", "vmgenid-")
	if err != nil {
		return nil, xerrors.Errorf("cannot create socket directory: %w", err)
	}
	qtestPath := filepath.Join(dir, qtestSocketName)
	qmpPath := filepath.Join(dir, qmpSocketName)

	qtestListener, err := net.Listen("unix", qtestPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, xerrors.Errorf("cannot listen on qtest socket: %w", err)
	}
	defer qtestListener.Close()

	qmpListener, err := net.Listen("unix", qmpPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, xerrors.Errorf("cannot listen on QMP socket: %w", err)
	}
	defer qmpListener.Close()

	args := config.Args(qtestPath, qmpPath)
	cmd := execCommand(config.binary(), args...)
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	if config.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, config.Stderr)
	}

	logger.Debug("starting guest", "binary", config.binary(), "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, xerrors.Errorf("cannot start %s: %w", config.binary(), err)
	}

	inst := &Instance{
		pid:             cmd.Process.Pid,
		dir:             dir,
		stderr:          stderr,
		shutdownTimeout: durationOrDefault(config.ShutdownTimeout, DefaultShutdownTimeout),
		logger:          logger,
		done:            make(chan struct{})}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.done)
	}()

	// Unblock the accepts below if the guest exits without connecting.
	connected := make(chan struct{})
	defer close(connected)
	go func() {
		select {
		case <-inst.done:
			qtestListener.Close()
			qmpListener.Close()
		case <-connected:
		}
	}()

	if err := inst.connect(qtestListener, qmpListener, durationOrDefault(config.LaunchTimeout, DefaultLaunchTimeout)); err != nil {
		inst.Close()
		return nil, err
	}

	logger.Info("guest started", "pid", inst.pid, "qemu", inst.monitor.Greeting().Version)
	return inst, nil
}

func (i *Instance) exitError() error {
	select {
	case <-i.done:
	default:
		return nil
	}
	msg := strings.TrimSpace(i.stderr.String())
	if msg == "" {
		return fmt.Errorf("guest exited: %v", i.waitErr)
	}
	return fmt.Errorf("guest exited: %v: %s", i.waitErr, msg)
}

func accept(l net.Listener, deadline time.Time) (net.Conn, error) {
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetDeadline(deadline)
	}
	return l.Accept()
}

func (i *Instance) connect(qtestListener, qmpListener net.Listener, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	conn, err := accept(qtestListener, deadline)
	if err != nil {
		if exitErr := i.exitError(); exitErr != nil {
			return exitErr
		}
		return xerrors.Errorf("cannot accept qtest connection: %w", err)
	}
	i.memory = qtest.NewClient(conn)

	conn, err = accept(qmpListener, deadline)
	if err != nil {
		if exitErr := i.exitError(); exitErr != nil {
			return exitErr
		}
		return xerrors.Errorf("cannot accept QMP connection: %w", err)
	}

	conn.SetDeadline(deadline)
	monitor, err := qmp.NewClient(conn)
	if err != nil {
		conn.Close()
		return xerrors.Errorf("cannot initialize QMP connection: %w", err)
	}
	conn.SetDeadline(time.Time{})
	i.monitor = monitor

	return nil
}

// Pid returns the process ID of the QEMU process.
func (i *Instance) Pid() int {
	return i.pid
}

// Memory returns the qtest client used to access guest memory.
func (i *Instance) Memory() *qtest.Client {
	return i.memory
}

// Monitor returns the QMP client for this guest.
func (i *Instance) Monitor() *qmp.Client {
	return i.monitor
}

// Close disconnects from the guest and terminates it. The process is sent
// SIGTERM, and then SIGKILL if it hasn't exited within the shutdown
// timeout. Calling Close more than once is safe.
func (i *Instance) Close() error {
	if i.memory != nil {
		i.memory.Close()
		i.memory = nil
	}
	if i.monitor != nil {
		i.monitor.Close()
		i.monitor = nil
	}

	var err error
	select {
	case <-i.done:
	default:
		if err := unixKill(i.pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
			i.logger.Warn("cannot terminate guest", "pid", i.pid, "error", err)
		}
		select {
		case <-i.done:
		case <-time.After(i.shutdownTimeout):
			i.logger.Warn("guest did not exit, killing it", "pid", i.pid)
			if killErr := unixKill(i.pid, unix.SIGKILL); killErr != nil && killErr != unix.ESRCH {
				err = xerrors.Errorf("cannot kill guest: %w", killErr)
				break
			}
			<-i.done
		}
		i.logger.Debug("guest stopped", "pid", i.pid)
	}

	if i.dir != "" {
		if rmErr := os.RemoveAll(i.dir); rmErr != nil && err == nil {
			err = rmErr
		}
		i.dir = ""
	}
	return err
}
