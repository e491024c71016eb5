// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/tuyastat/internal/config"
	"github.com/Thermoquad/tuyastat/internal/driver"
	"github.com/Thermoquad/tuyastat/internal/transport"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// PasswordEnv holds the WebSocket password
const PasswordEnv = config.EnvPrefix + "_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on the link settings
func OpenConnection(ctx context.Context) (Connection, string, error) {
	link := cfg.Link

	if link.URL != "" {
		// WebSocket mode
		password := ""
		if link.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := transport.DialWebSocket(ctx, transport.WebSocketConfig{
			URL:           link.URL,
			Username:      link.Username,
			Password:      password,
			SkipSSLVerify: link.NoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, link.LinkInfo(), nil
	}

	if link.Port != "" {
		// Serial mode
		conn, err := transport.OpenSerial(link.Port, link.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, link.LinkInfo(), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// isClosed reports whether a read error means the link is gone for good
func isClosed(err error) bool {
	return errors.Is(err, transport.ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed)
}

// closeOnDone closes c when ctx is cancelled, unblocking a pending Read
func closeOnDone(ctx context.Context, c io.Closer) {
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
}

// session is an open link with an engine and driver running the module side
type session struct {
	conn   Connection
	info   string
	stream *transport.Stream
	engine *tuya.Engine
	driver *driver.Driver
}

// openSession connects, then builds the stream, engine and driver on top of
// the connection. The caller runs s.driver.Run and must Close the session.
func openSession(ctx context.Context, observer tuya.Observer, queues driver.QueueObserver) (*session, error) {
	conn, info, err := OpenConnection(ctx)
	if err != nil {
		return nil, err
	}

	stream := transport.NewStream(conn, transport.WithLogger(logger.Named("stream")))

	engineOpts := []tuya.Option{
		tuya.WithLogger(logger.Named("engine")),
		tuya.WithVersion(cfg.Engine.Version),
		tuya.WithTiming(cfg.Engine.HeartbeatInterval, cfg.Engine.QueryInterval, cfg.Engine.KeepaliveInterval),
	}
	if observer != nil {
		engineOpts = append(engineOpts, tuya.WithObserver(observer))
	}
	engine, err := tuya.New(stream, engineOpts...)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	driverOpts := []driver.Option{
		driver.WithLogger(logger.Named("driver")),
		driver.WithFlusher(stream),
	}
	if queues != nil {
		driverOpts = append(driverOpts, driver.WithQueueObserver(queues))
	}
	drv, err := driver.New(engine, cfg.Driver, driverOpts...)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	logger.Info("link open", zap.String("link", info))
	return &session{conn: conn, info: info, stream: stream, engine: engine, driver: drv}, nil
}

// Close stops the driver, closes the engine and releases the link
func (s *session) Close() error {
	return errors.Join(s.driver.Close(), s.stream.Close())
}

// maxReconnectDelay caps the reconnect backoff
const maxReconnectDelay = 30 * time.Second

// runWithReconnect runs a session until ctx ends, reopening the link after a
// fault with exponential backoff starting at the configured reconnect delay.
// attach is called for every new session before the driver starts.
// Failing to open the first session is returned as is.
func runWithReconnect(ctx context.Context, observer tuya.Observer, queues driver.QueueObserver,
	attach func(*session), onReconnect func()) error {
	backoff := cfg.Driver.ReconnectDelay
	for attempt := 0; ; attempt++ {
		s, err := openSession(ctx, observer, queues)
		if err != nil && attempt == 0 {
			return err
		}
		if err == nil {
			backoff = cfg.Driver.ReconnectDelay
			attach(s)
			err = s.driver.Run(ctx)
			_ = s.Close()
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, driver.ErrLinkFault) {
				return err
			}
		}

		logger.Warn("link lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", backoff),
		)
		if onReconnect != nil {
			onReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectDelay {
			backoff = maxReconnectDelay
		}
	}
}

// readFrames decodes frames from conn until the read fails or ctx ends.
// Framing errors are dropped; the read error is delivered on the second channel.
func readFrames(ctx context.Context, conn Connection) (<-chan tuya.Frame, <-chan error) {
	frames := make(chan tuya.Frame, 16)
	errs := make(chan error, 1)

	go func() {
		receiver := tuya.NewReceiver()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				receiver.Feed(buf[i])
				for {
					frame, ok, decodeErr := receiver.Next()
					if decodeErr != nil {
						continue
					}
					if !ok {
						break
					}
					select {
					case frames <- frame:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	return frames, errs
}

// writeFrame encodes and writes a single module frame
func writeFrame(conn Connection, cmd tuya.Command, payload []byte) error {
	frame, err := tuya.EncodeFrame(cfg.Engine.Version, cmd, payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}
