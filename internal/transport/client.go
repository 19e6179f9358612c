// Package transport submits ledger events to the remote authority and
// classifies the outcome.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
)

type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingProtobuf Encoding = "protobuf"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultUserAgent      = "ParkingSystem/1.0"

	maxErrorBody = 200
)

// idempotencyNamespace scopes Idempotency-Key values to this system.
var idempotencyNamespace = uuid.MustParse("6f1d2a9e-6c1b-4f58-9d0e-52a7c0f4b8e1")

type Config struct {
	Endpoint       string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	// Encoding applies to submissions without an image. Image submissions
	// are always multipart.
	Encoding  Encoding
	UserAgent string
}

type Client struct {
	cfg    Config
	http   *http.Client
	clock  clock.Clock
	logger *slog.Logger
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = cfg.ConnectTimeout
	tr.ResponseHeaderTimeout = cfg.ReadTimeout

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: tr,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		clock:  clk,
		logger: logger,
	}
}

// Submit posts one event. 5xx answers and network errors are retried up to
// MaxAttempts with a fixed delay before being returned.
func (c *Client) Submit(ctx context.Context, p Payload, image []byte) Result {
	log := c.logger.With("device_db_id", p.DeviceDBID, "event_type", p.EventType)

	var res Result
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NetworkError
		}

		var err error
		res, err = c.submitOnce(ctx, p, image)
		switch res {
		case Success:
			log.Debug("transport.submit.accepted", "attempt", attempt)
			return res
		case PermanentFailure:
			log.Warn("transport.submit.rejected", "attempt", attempt, "err", err)
			return res
		}

		log.Warn("transport.submit.failed", "attempt", attempt, "result", res.String(), "err", err)
		if attempt < c.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return NetworkError
			case <-c.clock.After(c.cfg.RetryDelay):
			}
		}
	}
	if res == NetworkError {
		return NetworkError
	}
	return TemporaryFailure
}

func (c *Client) submitOnce(ctx context.Context, p Payload, image []byte) (Result, error) {
	body, contentType, err := c.encode(p, image)
	if err != nil {
		// An unencodable payload will never be accepted.
		return PermanentFailure, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return PermanentFailure, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Idempotency-Key", IdempotencyKey(p))

	resp, err := c.http.Do(req)
	if err != nil {
		return NetworkError, err
	}
	defer resp.Body.Close()

	snippet, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return TemporaryFailure, fmt.Errorf("read response: %w", readErr)
	}

	res := Classify(resp.StatusCode)
	switch res {
	case Success:
		if err := checkBody(resp.Header.Get("Content-Type"), snippet); err != nil {
			return TemporaryFailure, err
		}
		return Success, nil
	default:
		return res, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(snippet), maxErrorBody))
	}
}

func (c *Client) encode(p Payload, image []byte) ([]byte, string, error) {
	if len(image) > 0 {
		return encodeMultipart(p, image)
	}
	if c.cfg.Encoding == EncodingProtobuf {
		b, err := p.marshalProto()
		return b, "application/x-protobuf", err
	}
	b, err := json.Marshal(p)
	return b, "application/json", err
}

func encodeMultipart(p Payload, image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range p.fields() {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, p.ImageName()))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// checkBody rejects a 2xx answer that claims JSON but does not parse.
func checkBody(contentType string, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 || !strings.Contains(contentType, "json") {
		return nil
	}
	if !json.Valid(body) {
		return errors.New("malformed JSON response")
	}
	return nil
}

// Ping checks that the remote health endpoint answers. The health URL is
// derived by replacing a trailing /submit with /health.
func (c *Client) Ping(ctx context.Context) error {
	url := c.cfg.Endpoint
	if strings.HasSuffix(url, "/submit") {
		url = strings.TrimSuffix(url, "/submit") + "/health"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrRemoteUnreachable, resp.StatusCode)
	}
	return nil
}

// IdempotencyKey is stable for a given device and record so the remote side
// can drop duplicate deliveries.
func IdempotencyKey(p Payload) string {
	name := fmt.Sprintf("%s/%d/%s", p.UID, p.DeviceDBID, p.EventType)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
