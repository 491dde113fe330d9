package mdc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for MDC communication.
const (
	// defaultConnectTimeout bounds opening the transport.
	defaultConnectTimeout = 5 * time.Second

	// defaultReadTimeout bounds waiting for a reply. Displays answer within
	// a few hundred milliseconds when awake.
	defaultReadTimeout = 5 * time.Second
)

// Config holds client configuration.
type Config struct {
	// Dial opens the transport. Use TCPDialer or SerialDialer.
	Dial Dialer

	// ConnectTimeout bounds Dial. Default: 5 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each reply. Default: 5 seconds.
	ReadTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	RequestsTotal uint64
	ErrorsTotal   uint64
	TimeoutsTotal uint64
	OpensTotal    uint64
	LastActivity  time.Time
	Connected     bool
}

// Client talks MDC to one transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use; requests are serialised.
//   - Close releases the transport; the next request reopens it.
type Client struct {
	cfg Config

	mu        sync.Mutex
	transport Transport

	requestsTotal atomic.Uint64
	errorsTotal   atomic.Uint64
	timeoutsTotal atomic.Uint64
	opensTotal    atomic.Uint64
	lastActivity  atomic.Int64
}

// NewClient creates a client. No I/O happens until the first request.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Dial == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Client{cfg: cfg}, nil
}

// Status reads power, volume, mute and input source.
func (c *Client) Status(ctx context.Context, id byte) (Status, error) {
	resp, err := c.request(ctx, CmdStatus, id, nil)
	if err != nil {
		return Status{}, err
	}
	return decodeStatus(resp.values)
}

// Power sets the power state.
func (c *Client) Power(ctx context.Context, id byte, state PowerState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: power state %d", ErrInvalidValue, state)
	}
	_, err := c.request(ctx, CmdPower, id, []byte{byte(state)})
	return err
}

// Volume sets the volume, 0..100.
func (c *Client) Volume(ctx context.Context, id byte, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: volume %d", ErrInvalidValue, level)
	}
	_, err := c.request(ctx, CmdVolume, id, []byte{byte(level)})
	return err
}

// Mute sets the mute state.
func (c *Client) Mute(ctx context.Context, id byte, muted bool) error {
	var v byte
	if muted {
		v = 0x01
	}
	_, err := c.request(ctx, CmdMute, id, []byte{v})
	return err
}

// InputSource selects the input source.
func (c *Client) InputSource(ctx context.Context, id byte, src InputSource) error {
	if !src.Valid() {
		return fmt.Errorf("%w: input source 0x%02X", ErrInvalidValue, byte(src))
	}
	_, err := c.request(ctx, CmdInputSource, id, []byte{byte(src)})
	return err
}

// SerialNumber reads the display serial number.
func (c *Client) SerialNumber(ctx context.Context, id byte) (string, error) {
	resp, err := c.request(ctx, CmdSerialNum, id, nil)
	if err != nil {
		return "", err
	}
	return trimASCII(resp.values), nil
}

// ModelName reads the display model name.
func (c *Client) ModelName(ctx context.Context, id byte) (string, error) {
	resp, err := c.request(ctx, CmdModelName, id, nil)
	if err != nil {
		return "", err
	}
	return trimASCII(resp.values), nil
}

// Close releases the transport. It is safe to call on a closed client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// IsConnected reports whether a transport is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		RequestsTotal: c.requestsTotal.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		TimeoutsTotal: c.timeoutsTotal.Load(),
		OpensTotal:    c.opensTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     c.IsConnected(),
	}
}

func (c *Client) closeLocked() error {
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	return err
}

// request sends one frame and reads the matching reply.
func (c *Client) request(ctx context.Context, cmd Command, id byte, data []byte) (*response, error) {
	frame, err := encodeFrame(cmd, id, data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsTotal.Add(1)

	if err := c.openLocked(ctx); err != nil {
		c.errorsTotal.Add(1)
		return nil, err
	}

	resp, err := c.exchangeLocked(ctx, frame)
	if err != nil {
		c.errorsTotal.Add(1)
		if errors.Is(err, ErrReadTimeout) {
			c.timeoutsTotal.Add(1)
		}
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	c.lastActivity.Store(time.Now().Unix())

	if resp.cmd != cmd {
		return nil, fmt.Errorf("%s: %w: reply for command %s", cmd, ErrResponse, resp.cmd)
	}
	if id != BroadcastID && resp.id != id {
		return nil, fmt.Errorf("%s: %w: reply from display %d", cmd, ErrResponse, resp.id)
	}
	if !resp.ack {
		var code byte
		if len(resp.values) > 0 {
			code = resp.values[0]
		}
		return nil, fmt.Errorf("%s: %w (error code 0x%02X)", cmd, ErrNAK, code)
	}

	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("mdc reply", "command", cmd.String(), "display_id", id, "values", len(resp.values))
	}
	return resp, nil
}

func (c *Client) openLocked(ctx context.Context) error {
	if c.transport != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	t, err := c.cfg.Dial(dialCtx)
	if err != nil {
		return err
	}
	c.transport = t
	c.opensTotal.Add(1)

	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("mdc transport opened")
	}
	return nil
}

func (c *Client) exchangeLocked(ctx context.Context, frame []byte) (*response, error) {
	timeout := c.cfg.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrReadTimeout, context.DeadlineExceeded)
	}

	if err := c.transport.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	if _, err := c.transport.Write(frame); err != nil {
		return nil, fmt.Errorf("writing frame: %w", err)
	}
	return readResponse(c.transport)
}

// trimASCII drops trailing NULs and spaces from fixed-width string fields.
func trimASCII(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}
