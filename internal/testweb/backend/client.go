package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/common/util"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

const (
	requestIdHeader = "X-Request-Id"
	maxErrorBody    = 512
)

// Client talks to the Test-Web REST API.
type Client struct {
	baseUrl        string
	authToken      string
	cancelPaths    []string
	cancelAttempts uint
	cancelDelay    time.Duration
	registry       *Registry
	httpClient     *http.Client
}

func NewClient(config configuration.BackendConfig, registry *Registry) *Client {
	return &Client{
		baseUrl:        strings.TrimRight(config.BaseUrl, "/"),
		authToken:      config.AuthToken,
		cancelPaths:    config.CancelPaths,
		cancelAttempts: config.CancelAttempts,
		cancelDelay:    config.CancelDelay,
		registry:       registry.WithEndpoints(config.Endpoints),
		httpClient:     &http.Client{Timeout: config.RequestTimeout},
	}
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// StartTest posts the test configuration to the start endpoint of testType.
func (c *Client) StartTest(ctx context.Context, testType domain.TestType, config map[string]interface{}) (StartResponse, error) {
	descriptor, err := c.registry.Lookup(testType)
	if err != nil {
		return StartResponse{}, err
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	body, err := json.Marshal(config)
	if err != nil {
		return StartResponse{}, errors.Wrapf(err, "error encoding %s test config", testType)
	}

	respBody, err := c.do(ctx, http.MethodPost, descriptor.Path, body)
	if err != nil {
		return StartResponse{}, err
	}
	return descriptor.decoder()(testType, respBody)
}

// GetTestStatus fetches the current status of a remote test.
func (c *Client) GetTestStatus(ctx context.Context, remoteId string) (StatusResponse, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/test-status/"+url.PathEscape(remoteId), nil)
	if err != nil {
		return StatusResponse{}, err
	}
	var status StatusResponse
	if err := json.Unmarshal(respBody, &status); err != nil {
		return StatusResponse{}, errors.Wrapf(err, "error decoding status of test %s", remoteId)
	}
	return status, nil
}

// CancelTest asks the backend to stop a remote test. Each attempt tries the configured
// cancellation paths in order; the first one accepted wins.
func (c *Client) CancelTest(ctx context.Context, remoteId string) error {
	return retry.Do(
		func() error {
			var lastErr error
			for _, path := range c.cancelPaths {
				p := strings.ReplaceAll(path, "{id}", url.PathEscape(remoteId))
				if _, err := c.do(ctx, http.MethodPost, p, nil); err != nil {
					lastErr = err
					continue
				}
				return nil
			}
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(c.cancelAttempts),
		retry.Delay(c.cancelDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("remoteId", remoteId).Debugf("cancel attempt %d failed: %v", n+1, err)
		}),
	)
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating request %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIdHeader, util.NewRequestId())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "%s %s: %v", method, path, err)
	}
	defer util.DrainAndClose("response body", resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "reading %s %s: %v", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(ErrTransport, "%s %s returned %d: %s", method, path, resp.StatusCode, truncate(respBody))
	}
	return respBody, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return fmt.Sprintf("%s...", s[:maxErrorBody])
	}
	return s
}
