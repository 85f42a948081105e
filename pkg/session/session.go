package session

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logrus.Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.Logger.Debugf("requesting url: %s %s", req.Method, req.URL.String())

	if len(req.Header) > 0 {
		var headers []string
		for k, v := range req.Header {
			if k != "User-Agent" && k != "Authorization" {
				headers = append(headers, fmt.Sprintf("%s: %s", k, strings.Join(v, ", ")))
			}
		}
		if len(headers) > 0 {
			t.Logger.Debugf("request headers: %s", strings.Join(headers, " | "))
		}
	}

	start := time.Now()
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("request to %s failed: %v", req.URL.Host, err)
		return resp, err
	}

	t.Logger.Debugf("response for %s: status code %d in %v", req.URL.String(), resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 && resp.Body != nil {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 500))
		resp.Body.Close()
		if readErr == nil && len(bodyBytes) > 0 {
			t.Logger.Debugf("error response body: %s", string(bodyBytes))
		}
		resp.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))
	}

	return resp, nil
}

// New returns the HTTP client shared by network backends. Request logging is
// only installed when the logger is at debug level. A zero timeout means no
// timeout, which embedding calls on large models may need.
func New(timeout time.Duration, logger *logrus.Logger) *http.Client {
	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	var transport http.RoundTripper = baseTransport
	if logger != nil && logger.IsLevelEnabled(logrus.DebugLevel) {
		transport = &LoggingTransport{Transport: baseTransport, Logger: logger}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
