package verifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config constructs a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://bulk.verifier.example/api".
	BaseURL string
	// APIKey is the key value, or a path to a file holding it.
	APIKey string
	// CAPath optionally names a PEM bundle to trust for TLS.
	CAPath string
	// RequestTimeout bounds each HTTP call. Defaults to 60s.
	RequestTimeout time.Duration
	// RateLimitRPS is a global request rate limit. <=0 disables.
	RateLimitRPS float64
}

// Client talks to the bulk verification service. All calls are synchronous;
// callers own any cross-run retry policy.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates the config and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	key, err := readValueOrFile(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("verifier api key is required")
	}

	hc, err := newHTTPClient(cfg.CAPath, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Client{
		baseURL: base,
		apiKey:  key,
		http:    hc,
		limiter: limiter,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("verifier base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse verifier base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("verifier base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(caPath string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

func readValueOrFile(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read api key file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}

type uploadResponse struct {
	FileID int `json:"file_id"`
}

// Upload submits encoded candidate lines as a multipart file upload and
// returns the remote job id.
func (c *Client) Upload(ctx context.Context, filename string, payload []byte) (int, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "candidates.txt"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file_contents", filename)
	if err != nil {
		return 0, err
	}
	if _, err := fw.Write(payload); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	u := c.resolve("upload")
	u.RawQuery = c.query(nil).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	rb, err := c.do(req, "upload")
	if err != nil {
		return 0, err
	}
	var out uploadResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return 0, fmt.Errorf("parse upload response: %w", err)
	}
	if out.FileID <= 0 {
		return 0, fmt.Errorf("upload response missing file_id")
	}
	return out.FileID, nil
}

// Progress reports the remote state of one job.
func (c *Client) Progress(ctx context.Context, remoteJobID int) (Progress, error) {
	u := c.resolve("fileinfo")
	u.RawQuery = c.query(url.Values{"file_id": []string{strconv.Itoa(remoteJobID)}}).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Progress{}, err
	}
	req.Header.Set("Accept", "application/json")

	rb, err := c.do(req, "fileinfo")
	if err != nil {
		return Progress{}, err
	}
	var out Progress
	if err := json.Unmarshal(rb, &out); err != nil {
		return Progress{}, fmt.Errorf("parse fileinfo response: %w", err)
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return out, nil
}

// Download fetches the raw result payload of a finished job.
func (c *Client) Download(ctx context.Context, remoteJobID int) ([]byte, error) {
	u := c.resolve("download")
	u.RawQuery = c.query(url.Values{"file_id": []string{strconv.Itoa(remoteJobID)}}).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	return c.do(req, "download")
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(op, resp, b)
	}
	return b, nil
}

func (c *Client) query(extra url.Values) url.Values {
	q := url.Values{}
	q.Set("key", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return q
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}
