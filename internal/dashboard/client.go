package dashboard

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"topoview/internal/classify"
	"topoview/internal/inventory"
)

const (
	DefaultBaseURL = "https://api.meraki.com/api/v1"
	APIKeyHeader   = "X-Cisco-Meraki-API-Key"

	// DefaultLookback matches the dashboard's own default client timespan.
	DefaultLookback = 3 * time.Hour
	maxLookback     = 31 * 24 * time.Hour

	maxPages     = 50
	maxBodyBytes = 32 << 20
	userAgent    = "topoview/1.0"
)

// RetryRecorder is notified once per retried request.
type RetryRecorder interface {
	IncRetry(op string)
}

type Options struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	PerPage        int
	// InsecureFallback allows one retry without certificate verification
	// after an x509 failure.
	InsecureFallback bool

	HTTPClient *http.Client
	Logger     zerolog.Logger
	Recorder   RetryRecorder
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client reads inventory, client lists and topology links from the vendor
// dashboard API.
type Client struct {
	baseURL          string
	apiKey           string
	timeout          time.Duration
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	perPage          int
	insecureFallback bool
	http             *http.Client
	log              zerolog.Logger
	rec              RetryRecorder
	sleep            func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseDelay := opts.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := opts.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 1000
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Client{
		baseURL:          base,
		apiKey:           strings.TrimSpace(opts.APIKey),
		timeout:          timeout,
		maxAttempts:      attempts,
		baseDelay:        baseDelay,
		maxDelay:         maxDelay,
		perPage:          perPage,
		insecureFallback: opts.InsecureFallback,
		http:             hc,
		log:              opts.Logger,
		rec:              opts.Recorder,
		sleep:            sleep,
	}
}

// Devices lists the devices claimed into a network.
func (c *Client) Devices(ctx context.Context, networkID string) ([]inventory.DeviceRecord, error) {
	body, err := c.list(ctx, "devices", "/networks/"+url.PathEscape(networkID)+"/devices", nil)
	if err != nil {
		return nil, err
	}
	devices, err := inventory.DecodeDevices(body)
	if err != nil {
		return nil, &RetrievalError{Op: "devices", Attempts: 1, Err: err}
	}
	for i := range devices {
		if devices[i].NetworkID == "" {
			devices[i].NetworkID = networkID
		}
	}
	return devices, nil
}

// Clients lists clients seen in the network within lookback.
func (c *Client) Clients(ctx context.Context, networkID string, lookback time.Duration) ([]inventory.ClientRecord, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if lookback > maxLookback {
		lookback = maxLookback
	}
	params := url.Values{}
	params.Set("perPage", strconv.Itoa(c.perPage))
	params.Set("timespan", strconv.Itoa(int(lookback/time.Second)))

	body, err := c.list(ctx, "clients", "/networks/"+url.PathEscape(networkID)+"/clients", params)
	if err != nil {
		return nil, err
	}
	clients, err := inventory.DecodeClients(body)
	if err != nil {
		return nil, &RetrievalError{Op: "clients", Attempts: 1, Err: err}
	}
	return clients, nil
}

// TopologyLinks returns the authoritative link layer for a network. Networks
// without topology support answer 400 or 404; that is reported as
// ErrUnavailable so callers fall back to inference.
func (c *Client) TopologyLinks(ctx context.Context, networkID string) ([]inventory.LinkRecord, error) {
	p, err := c.do(ctx, "topology", c.endpoint("/networks/"+url.PathEscape(networkID)+"/topology/linkLayer", nil))
	if err != nil {
		switch StatusOf(err) {
		case http.StatusNotFound, http.StatusBadRequest:
			return nil, fmt.Errorf("topology for network %s: %w", networkID, ErrUnavailable)
		}
		return nil, err
	}
	links, err := inventory.DecodeLinks(p.body)
	if err != nil {
		return nil, &RetrievalError{Op: "topology", Attempts: 1, Err: err}
	}
	return links, nil
}

// DeviceUplinks returns uplink status for devices whose role exposes uplinks.
// Other roles are skipped without a request, and a 404 means the device has
// no uplink information.
func (c *Client) DeviceUplinks(ctx context.Context, serial string, role classify.Role) ([]inventory.Uplink, error) {
	if !classify.SupportsCapability(role, classify.CapUplink) || strings.TrimSpace(serial) == "" {
		return nil, nil
	}
	p, err := c.do(ctx, "uplink", c.endpoint("/devices/"+url.PathEscape(serial)+"/uplink", nil))
	if err != nil {
		if StatusOf(err) == http.StatusNotFound {
			c.log.Debug().Str("serial", serial).Msg("device has no uplink information")
			return nil, nil
		}
		return nil, err
	}
	uplinks, err := inventory.DecodeUplinks(p.body)
	if err != nil {
		return nil, &RetrievalError{Op: "uplink", Attempts: 1, Err: err}
	}
	return uplinks, nil
}

type page struct {
	body   []byte
	header http.Header
}

// statusError is a non-2xx response.
type statusError struct {
	status     int
	retryAfter time.Duration
	message    string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return http.StatusText(e.status)
	}
	return e.message
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// list follows Link rel=next headers and concatenates the array pages.
func (c *Client) list(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	target := c.endpoint(path, params)
	items := []json.RawMessage{}
	for n := 0; target != ""; n++ {
		if n >= maxPages {
			c.log.Warn().Str("op", op).Int("pages", n).Msg("pagination limit reached; truncating result")
			break
		}
		p, err := c.do(ctx, op, target)
		if err != nil {
			return nil, err
		}
		var batch []json.RawMessage
		if err := json.Unmarshal(p.body, &batch); err != nil {
			return nil, &RetrievalError{Op: op, Attempts: 1, Err: fmt.Errorf("decode page %d: %w", n+1, err)}
		}
		items = append(items, batch...)

		next := nextLink(p.header)
		if next == "" {
			break
		}
		if target, err = c.followable(target, next); err != nil {
			return nil, &RetrievalError{Op: op, Attempts: 1, Err: err}
		}
	}
	return json.Marshal(items)
}

// do performs a GET with bounded exponential backoff. Timeouts, transport
// errors, 429 and 5xx are retried; other statuses fail immediately.
func (c *Client) do(ctx context.Context, op, target string) (page, error) {
	if _, err := url.Parse(target); err != nil {
		return page{}, &RetrievalError{Op: op, Err: err}
	}

	insecure := false
	attempts := 0
	for {
		attempts++
		p, err := c.once(ctx, target, insecure)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return page{}, &RetrievalError{Op: op, Attempts: attempts, Err: ctx.Err()}
		}

		if isCertificateError(err) {
			if c.insecureFallback && !insecure {
				c.log.Warn().Err(err).Str("op", op).Msg("certificate verification failed; retrying without verification")
				insecure = true
				attempts--
				continue
			}
			return page{}, &RetrievalError{Op: op, Attempts: attempts, Err: err}
		}

		status, retryAfter := 0, time.Duration(0)
		var se *statusError
		if errors.As(err, &se) {
			status, retryAfter = se.status, se.retryAfter
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				err = fmt.Errorf("%w: %v", ErrUnauthorized, se)
			}
		}
		if !retryableStatus(status) {
			return page{}, &RetrievalError{Op: op, Status: status, Attempts: attempts, Err: err}
		}
		if attempts >= c.maxAttempts {
			return page{}, &RetrievalError{Op: op, Status: status, Attempts: attempts, Retryable: true, Err: err}
		}

		delay := retryDelay(c.baseDelay, attempts-1, c.maxDelay)
		if retryAfter > delay {
			delay = min(retryAfter, c.maxDelay)
		}
		if c.rec != nil {
			c.rec.IncRetry(op)
		}
		c.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempts).
			Int("status", status).
			Dur("delay", delay).
			Msg("dashboard request failed; retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return page{}, &RetrievalError{Op: op, Status: status, Attempts: attempts, Err: err}
		}
	}
}

func (c *Client) once(ctx context.Context, target string, insecure bool) (page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	hc := c.http
	if insecure {
		hc = c.insecureClient()
	}
	resp, err := hc.Do(req)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return page{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page{}, &statusError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			message:    errorMessage(body),
		}
	}
	return page{body: body, header: resp.Header}, nil
}

func (c *Client) insecureClient() *http.Client {
	var tr *http.Transport
	if t, ok := c.http.Transport.(*http.Transport); ok {
		tr = t.Clone()
	} else {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	}
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}
	tr.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in fallback
	return &http.Client{Transport: tr, Timeout: c.http.Timeout}
}

func retryableStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// retryDelay is base * 2^attempt, capped at ceiling.
func retryDelay(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base * time.Duration(1<<attempt)
	if d > ceiling {
		return ceiling
	}
	return d
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts {"errors":[...]} from a dashboard error body.
func errorMessage(body []byte) string {
	var payload struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		return strings.Join(payload.Errors, "; ")
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// followable resolves next against the current page and refuses targets on
// another scheme or host, which would otherwise receive the API key.
func (c *Client) followable(current, next string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	u := base.ResolveReference(ref)
	origin, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Scheme, origin.Scheme) || !strings.EqualFold(u.Host, origin.Host) {
		return "", fmt.Errorf("%w: %s", ErrForeignNextLink, u.Redacted())
	}
	return u.String(), nil
}

// nextLink returns the rel=next target of an RFC 5988 Link header.
func nextLink(h http.Header) string {
	for _, value := range h.Values("Link") {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				if strings.EqualFold(strings.Trim(strings.TrimSpace(val), `"`), "next") {
					return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
				}
			}
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
