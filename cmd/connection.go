// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// serialTransport drives a local serial port.
type serialTransport struct {
	port serial.Port
}

func (s *serialTransport) Configure(cfg divecom.LineConfig) error {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	switch cfg.Parity {
	case divecom.ParityNone:
		mode.Parity = serial.NoParity
	case divecom.ParityOdd:
		mode.Parity = serial.OddParity
	case divecom.ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return fmt.Errorf("%w: parity %d", divecom.ErrInvalidArgs, cfg.Parity)
	}
	switch cfg.StopBits {
	case divecom.StopBitsOne:
		mode.StopBits = serial.OneStopBit
	case divecom.StopBitsOneHalf:
		mode.StopBits = serial.OnePointFiveStopBits
	case divecom.StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("%w: stop bits %d", divecom.ErrInvalidArgs, cfg.StopBits)
	}
	if cfg.FlowControl != divecom.FlowControlNone {
		return fmt.Errorf("%w: flow control", divecom.ErrUnsupported)
	}
	return s.port.SetMode(mode)
}

func (s *serialTransport) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	return s.port.SetReadTimeout(d)
}

func (s *serialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	// The port reports an expired read deadline as a zero-byte read.
	if n == 0 && err == nil {
		return 0, fmt.Errorf("%w: serial read deadline expired", divecom.ErrTimeout)
	}
	return n, err
}

func (s *serialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialTransport) Flush() error {
	return s.port.Drain()
}

func (s *serialTransport) Purge(dir divecom.Direction) error {
	if dir&divecom.DirectionInput != 0 {
		if err := s.port.ResetInputBuffer(); err != nil {
			return err
		}
	}
	if dir&divecom.DirectionOutput != 0 {
		if err := s.port.ResetOutputBuffer(); err != nil {
			return err
		}
	}
	return nil
}

func (s *serialTransport) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (s *serialTransport) Close() error {
	return s.port.Close()
}

// wsTransport drives a remote serial or BLE link through a WebSocket
// bridge carrying raw bytes as binary messages. The line parameters
// are owned by the bridge endpoint, so Configure is accepted and
// ignored.
type wsTransport struct {
	conn    *websocket.Conn
	buf     []byte
	timeout time.Duration
	closed  bool
}

func (w *wsTransport) Configure(cfg divecom.LineConfig) error {
	return nil
}

func (w *wsTransport) SetTimeout(d time.Duration) error {
	w.timeout = d
	return nil
}

func (w *wsTransport) Read(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: websocket connection closed", divecom.ErrIO)
	}
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	if w.timeout > 0 {
		if err := w.conn.SetReadDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	} else {
		if err := w.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return 0, fmt.Errorf("%w: websocket read deadline expired", divecom.ErrTimeout)
			}
			w.closed = true
			return 0, fmt.Errorf("%w: %v", divecom.ErrIO, err)
		}
		// The bridge carries raw transport bytes as binary messages;
		// anything else is bridge chatter.
		if messageType != websocket.BinaryMessage {
			continue
		}
		n := copy(p, data)
		w.buf = append(w.buf[:0], data[n:]...)
		return n, nil
	}
}

func (w *wsTransport) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("%w: %v", divecom.ErrIO, err)
	}
	return len(p), nil
}

func (w *wsTransport) Flush() error {
	return nil
}

func (w *wsTransport) Purge(dir divecom.Direction) error {
	if dir&divecom.DirectionInput != 0 {
		w.buf = w.buf[:0]
	}
	return nil
}

func (w *wsTransport) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}

// openSerialTransport opens a local serial port.
func openSerialTransport(portName string, baudRate int) (divecom.Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	return &serialTransport{port: port}, nil
}

// openWebSocketTransport opens a WebSocket bridge with HTTP Basic auth.
func openWebSocketTransport(wsURL, username, password string, skipSSLVerify bool) (divecom.Transport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &wsTransport{conn: conn}, nil
}

// getPassword retrieves the bridge password from the environment or
// prompts the user.
func getPassword() (string, error) {
	if pw := os.Getenv("HALOCLINE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openTransport opens either a serial or WebSocket transport based on
// flags.
func openTransport() (divecom.Transport, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, "", err
			}
		}

		t, err := openWebSocketTransport(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return t, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		t, err := openSerialTransport(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return t, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
