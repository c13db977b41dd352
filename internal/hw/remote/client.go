// Package remote drives an observatory daemon over its HTTP JSON API:
// devices are addressed by name, variables are set and read by key, and
// the script executor takes plain text commands.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/PointGo/internal/archive"
	"github.com/cjeanneret/PointGo/internal/debug"
)

// Device types understood by /api/devbytype.
const (
	TypeTelescope = 2
	TypeCamera    = 3
)

// Device state bits. A device is idle when none of them is set.
const stateBusyMask = 0x07

var ErrNoDevice = errors.New("no device of requested type")

// APIError captures non-success HTTP responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("daemon error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon error: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client implements centering.Actuator against a remote daemon. Frames
// are archived and discarded on the local file system the daemon writes
// them to.
type Client struct {
	baseURL    string
	user       string
	password   string
	executor   string
	httpClient *http.Client
	poll       time.Duration
	store      *archive.Store

	// readout bounds an exposure past its set duration. Zero leaves the
	// expose call limited only by the caller's context.
	readout  time.Duration
	exposure time.Duration

	telescope string
	camera    string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuth sets basic auth credentials.
func WithAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithExecutor names the device that receives script commands.
func WithExecutor(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.executor = name
		}
	}
}

// WithPollInterval sets how often WaitIdle reads the telescope state.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithReadoutMargin limits /api/expose to the exposure time plus d.
func WithReadoutMargin(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readout = d
		}
	}
}

// NewClient constructs a daemon client.
func NewClient(baseURL string, store *archive.Store, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("missing daemon url")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		executor:   "EXEC",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		poll:       time.Second,
		store:      store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DevicesByType lists the names of devices of the given type.
func (c *Client) DevicesByType(ctx context.Context, typ int) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/api/devbytype", url.Values{"t": {strconv.Itoa(typ)}}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) device(ctx context.Context, typ int, cached *string) (string, error) {
	if *cached != "" {
		return *cached, nil
	}
	names, err := c.DevicesByType(ctx, typ)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w %d", ErrNoDevice, typ)
	}
	*cached = names[0]
	debug.Verbose("Remote: device type %d is %s", typ, names[0])
	return names[0], nil
}

// Set writes a device variable.
func (c *Client) Set(ctx context.Context, device, name, value string, additive bool) error {
	q := url.Values{"d": {device}, "n": {name}, "v": {value}}
	if additive {
		q.Set("op", "+=")
	}
	return c.getJSON(ctx, "/api/set", q, nil)
}

// DeviceState is a device's variables and state word.
type DeviceState struct {
	Values map[string]any `json:"d"`
	State  int            `json:"state"`
}

// Idle reports whether the device is not moving, exposing or reading out.
func (s DeviceState) Idle() bool {
	return s.State&stateBusyMask == 0
}

// Get reads a device's variables.
func (c *Client) Get(ctx context.Context, device string) (DeviceState, error) {
	var st DeviceState
	err := c.getJSON(ctx, "/api/get", url.Values{"d": {device}}, &st)
	return st, err
}

// Command sends a script command to the executor.
func (c *Client) Command(ctx context.Context, command string) error {
	return c.getJSON(ctx, "/api/cmd", url.Values{"d": {c.executor}, "c": {command}}, nil)
}

func (c *Client) SetTemporaryOffset(ctx context.Context, ra, dec float64) error {
	tel, err := c.device(ctx, TypeTelescope, &c.telescope)
	if err != nil {
		return err
	}
	return c.Set(ctx, tel, "OFFS", pair(ra, dec), false)
}

// WaitIdle polls the telescope until it is idle. Reaching timeout is
// reported as false, not as an error.
func (c *Client) WaitIdle(ctx context.Context, timeout time.Duration) (bool, error) {
	tel, err := c.device(ctx, TypeTelescope, &c.telescope)
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		st, err := c.Get(ctx, tel)
		if err != nil {
			return false, err
		}
		if st.Idle() {
			return true, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) SetExposureTime(ctx context.Context, exposure time.Duration) error {
	cam, err := c.device(ctx, TypeCamera, &c.camera)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, cam, "exposure", strconv.FormatFloat(exposure.Seconds(), 'f', -1, 64), false); err != nil {
		return err
	}
	c.exposure = exposure
	return nil
}

// ExposeNow blocks until the daemon has read the frame out. The request
// timeout does not apply: an exposure routinely outlasts it.
func (c *Client) ExposeNow(ctx context.Context) (string, error) {
	cam, err := c.device(ctx, TypeCamera, &c.camera)
	if err != nil {
		return "", err
	}
	if c.readout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.exposure+c.readout)
		defer cancel()
	}
	untimed := *c.httpClient
	untimed.Timeout = 0

	var out struct {
		Image string `json:"image"`
	}
	if err := c.do(ctx, &untimed, "/api/expose", url.Values{"d": {cam}}, &out); err != nil {
		return "", err
	}
	if out.Image == "" {
		return "", errors.New("daemon returned no image")
	}
	return out.Image, nil
}

func (c *Client) ApplyPermanentCorrection(ctx context.Context, ra, dec float64) error {
	tel, err := c.device(ctx, TypeTelescope, &c.telescope)
	if err != nil {
		return err
	}
	return c.Set(ctx, tel, "CORR_", pair(ra, dec), true)
}

func (c *Client) DisableCurrentTarget(ctx context.Context, cooldown time.Duration) error {
	return c.Command(ctx, fmt.Sprintf("disable %d", int(cooldown.Round(time.Second).Seconds())))
}

func (c *Client) ArchiveImage(ctx context.Context, image string) error {
	_, err := c.store.Archive(image)
	return err
}

func (c *Client) DiscardImage(ctx context.Context, image string) error {
	return c.store.Discard(image)
}

func (c *Client) TerminateScript(ctx context.Context) error {
	return c.Command(ctx, "end_script")
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, c.httpClient, path, q, out)
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, path string, q url.Values, out any) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	debug.Trace("Remote: GET %s", u)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func pair(ra, dec float64) string {
	return strconv.FormatFloat(ra, 'f', -1, 64) + " " + strconv.FormatFloat(dec, 'f', -1, 64)
}
