package philipstv

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"
)

// JointSpace ports: API 1 is plain HTTP, API 5 and 6 are HTTPS.
const (
	portHTTP  = 1925
	portHTTPS = 1926

	defaultRequestTimeout = 5 * time.Second

	// notifyMargin is added to the long-poll timeout for the HTTP deadline.
	notifyMargin = 5 * time.Second
)

// ClientConfig holds JointSpace connection settings.
type ClientConfig struct {
	Host       string
	APIVersion int
	Username   string
	Password   string

	// RequestTimeout bounds ordinary requests. Default: 5 seconds.
	RequestTimeout time.Duration

	// BaseURL overrides the derived URL (tests).
	BaseURL string

	// HTTPClient overrides the derived client (tests).
	HTTPClient *http.Client
}

// System is the subset of /system the bridge uses.
type System struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Serial       string `json:"serialnumber_encrypted"`
	NotifyChange string `json:"notifyChange"`
}

// Volume is the /audio/volume payload.
type Volume struct {
	Muted   bool `json:"muted"`
	Current int  `json:"current"`
	Min     int  `json:"min"`
	Max     int  `json:"max"`
}

// Client talks to one TV over JointSpace.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Getters return the values cached by the last Update or NotifyChange.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration

	mu         sync.RWMutex
	on         bool
	powerState string
	system     *System
	volume     *Volume
}

// NewClient creates a client. No I/O happens until Update.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidArgument)
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 1
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	base := cfg.BaseURL
	if base == "" {
		if cfg.APIVersion >= 5 {
			base = fmt.Sprintf("https://%s/%d", net.JoinHostPort(cfg.Host, fmt.Sprint(portHTTPS)), cfg.APIVersion)
		} else {
			base = fmt.Sprintf("http://%s/%d", net.JoinHostPort(cfg.Host, fmt.Sprint(portHTTP)), cfg.APIVersion)
		}
	}

	hc := cfg.HTTPClient
	if hc == nil {
		var rt http.RoundTripper = &http.Transport{
			// TVs use self-signed certificates.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // device certificates are self-signed
		}
		if cfg.Username != "" {
			rt = &digest.Transport{Username: cfg.Username, Password: cfg.Password, Transport: rt}
		}
		hc = &http.Client{Transport: rt}
	}

	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    hc,
		timeout: cfg.RequestTimeout,
	}, nil
}

// Update refreshes system, power state and volume. On connection failure
// the TV is marked off and ErrConnectionFailure is returned.
func (c *Client) Update(ctx context.Context) error {
	var system System
	if err := c.get(ctx, "system", &system); err != nil {
		c.markOff()
		return err
	}

	var power struct {
		PowerState string `json:"powerstate"`
	}
	if err := c.get(ctx, "powerstate", &power); err != nil {
		c.markOff()
		return err
	}

	var volume Volume
	volErr := c.get(ctx, "audio/volume", &volume)

	c.mu.Lock()
	c.on = true
	c.system = &system
	c.powerState = power.PowerState
	if volErr == nil {
		c.volume = &volume
	}
	c.mu.Unlock()

	// Volume is unavailable in standby; that is not a failure.
	if volErr != nil && !errors.Is(volErr, ErrProtocol) {
		return volErr
	}
	return nil
}

// On reports whether the TV answered the last Update.
func (c *Client) On() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.on
}

// PowerState returns the last reported power state ("On", "Standby", ...).
func (c *Client) PowerState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.powerState
}

// NotifyChangeSupported reports whether the TV offers the notifychange
// long-poll endpoint.
func (c *Client) NotifyChangeSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.system == nil {
		return false
	}
	switch c.system.NotifyChange {
	case "http", "https":
		return true
	default:
		return false
	}
}

// System returns the cached system info, or nil before the first Update.
func (c *Client) System() *System {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.system == nil {
		return nil
	}
	s := *c.system
	return &s
}

// Volume returns the cached volume, or nil when unknown.
func (c *Client) Volume() *Volume {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.volume == nil {
		return nil
	}
	v := *c.volume
	return &v
}

// NotifyChange long-polls the TV for up to timeout. It reports true when
// the TV returned changed data (already applied to the cache) and false
// when the poll ended with nothing new. An error means the loop should
// stop.
func (c *Client) NotifyChange(ctx context.Context, timeout time.Duration) (bool, error) {
	c.mu.RLock()
	notification := map[string]any{
		"powerstate": map[string]any{"powerstate": c.powerState},
	}
	if c.volume != nil {
		notification["audio/volume"] = c.volume
	}
	c.mu.RUnlock()

	body, err := json.Marshal(map[string]any{"notification": notification})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+notifyMargin)
	defer cancel()

	raw, err := c.do(ctx, http.MethodPost, "notifychange", body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}

	var changes struct {
		PowerState *struct {
			PowerState string `json:"powerstate"`
		} `json:"powerstate"`
		Volume *Volume `json:"audio/volume"`
	}
	if err := json.Unmarshal(raw, &changes); err != nil {
		return false, fmt.Errorf("%w: notifychange: %w", ErrProtocol, err)
	}
	if changes.PowerState == nil && changes.Volume == nil {
		return false, nil
	}

	c.mu.Lock()
	if changes.PowerState != nil {
		c.powerState = changes.PowerState.PowerState
	}
	if changes.Volume != nil {
		c.volume = changes.Volume
	}
	c.mu.Unlock()
	return true, nil
}

// SetPowerState requests "On" or "Standby".
func (c *Client) SetPowerState(ctx context.Context, state string) error {
	if state != "On" && state != "Standby" {
		return fmt.Errorf("%w: power state %q", ErrInvalidArgument, state)
	}
	body, err := json.Marshal(map[string]string{"powerstate": state})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.do(ctx, http.MethodPost, "powerstate", body); err != nil {
		return err
	}
	c.mu.Lock()
	c.powerState = state
	c.mu.Unlock()
	return nil
}

// SetVolume sets the volume from a 0..1 level scaled to the TV's range,
// optionally changing mute.
func (c *Client) SetVolume(ctx context.Context, level *float64, muted *bool) error {
	c.mu.RLock()
	if c.volume == nil {
		c.mu.RUnlock()
		return fmt.Errorf("%w: volume range unknown", ErrInvalidArgument)
	}
	next := *c.volume
	c.mu.RUnlock()

	if level != nil {
		l := min(max(*level, 0), 1)
		next.Current = next.Min + int(l*float64(next.Max-next.Min)+0.5)
	}
	if muted != nil {
		next.Muted = *muted
	}

	body, err := json.Marshal(map[string]any{"current": next.Current, "muted": next.Muted})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.do(ctx, http.MethodPost, "audio/volume", body); err != nil {
		return err
	}
	c.mu.Lock()
	c.volume = &next
	c.mu.Unlock()
	return nil
}

func (c *Client) markOff() {
	c.mu.Lock()
	c.on = false
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectionFailure, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConnectionFailure, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrProtocol, method, path, resp.StatusCode)
	}
	return raw, nil
}
