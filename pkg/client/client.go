// Package client talks to the cabinet daemon over its unix socket. Errors
// carry the daemon's fault kind, so callers can tell busy from not_found
// without parsing messages.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Rivega42/bookcab/pkg/fault"
)

// Client is a thin typed wrapper around the daemon's HTTP API.
type Client struct {
	socketPath string
	httpc      http.Client
}

// New returns a client for the daemon at socketPath.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpc: http.Client{
			Transport: &http.Transport{
				DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
					conn, err := net.Dial("unix", socketPath)
					if err != nil {
						if os.IsNotExist(err) {
							return nil, ErrDaemonNotRunning
						}
						if os.IsPermission(err) {
							return nil, ErrPermissionDenied
						}
						logrus.Errorf("failed to connect to unix socket: %v", err)
						return nil, err
					}
					return conn, err
				},
			},
		},
	}
}

func (c *Client) send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	var resp *http.Response
	var err error

	switch method {
	case "GET":
		resp, err = c.httpc.Get("http://unix" + path)
	case "POST":
		resp, err = c.httpc.Post("http://unix"+path, "application/json", strings.NewReader(data))
	case "PUT":
		req, err2 := http.NewRequest("PUT", "http://unix"+path, strings.NewReader(data))
		if err2 != nil {
			return "", fmt.Errorf("failed to create request: %w", err2)
		}
		resp, err = c.httpc.Do(req)
	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}

	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	body := string(b)

	code := resp.StatusCode

	logrus.WithFields(logrus.Fields{
		"code": code,
		"body": body,
	}).Debug("got response")

	if code < 200 || code > 299 {
		return "", decodeError(code, b)
	}

	return body, nil
}

// decodeError turns an error response body back into a classified error.
func decodeError(code int, body []byte) error {
	var apiErr struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Kind != "" {
		return &fault.Error{Kind: fault.Kind(apiErr.Kind), Message: apiErr.Message}
	}
	return fmt.Errorf("got %d: %s", code, string(body))
}

func (c *Client) get(path string) (string, error) {
	return c.send("GET", path, "")
}

func (c *Client) post(path string, data string) (string, error) {
	return c.send("POST", path, data)
}

func (c *Client) put(path string, data string) (string, error) {
	return c.send("PUT", path, data)
}

// getJSON decodes a GET response into out.
func (c *Client) getJSON(path string, out any) error {
	body, err := c.get(path)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), out)
}

// postJSON sends in (may be nil) and decodes the response into out (may be
// nil).
func (c *Client) postJSON(path string, in, out any) error {
	var payload string
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	body, err := c.post(path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(body), out)
}
