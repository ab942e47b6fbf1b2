// Package actuator talks to the remote heater/fan controller over HTTP.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hlr-control/internal/metrics"
	"hlr-control/internal/model"
)

const (
	sendAttempts = 5
	sendPause    = time.Second
)

// Client issues phase commands against the actuator endpoint. Only HTTP 200
// counts as success.
type Client struct {
	base string
	http *http.Client

	attempts int
	pause    time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		base:     baseURL,
		http:     &http.Client{Timeout: timeout},
		attempts: sendAttempts,
		pause:    sendPause,
	}
}

// command is the wire body of POST /auto.
type command struct {
	Phase    string  `json:"phase"`
	FanVolt  float64 `json:"fan_volt"`
	Heater   bool    `json:"heater"`
	Duration int     `json:"duration"`
}

// Send posts one phase command, retrying up to 5 times with a 1s pause.
// The whole call is bounded to a few seconds. It reports whether the
// actuator accepted the command; the caller decides what a refusal means
// for the persisted cycle.
func (c *Client) Send(ctx context.Context, phase model.Phase, heater bool, fanVolt float64, durationMin int) bool {
	body, err := json.Marshal(command{
		Phase:    string(phase),
		FanVolt:  fanVolt,
		Heater:   heater,
		Duration: durationMin,
	})
	if err != nil {
		log.Printf("actuator: marshal %s command: %v", phase, err)
		return false
	}

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := c.post(ctx, "/auto", body); err != nil {
			log.Printf("actuator: send %s attempt %d/%d: %v", phase, attempt, c.attempts, err)
			metrics.ActuatorSendFailures.Inc()
			return err
		}
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(c.pause), uint64(c.attempts-1)))
	if err != nil {
		log.Printf("actuator: %s command failed after %d attempts", phase, c.attempts)
		return false
	}
	return true
}

// Stop tells the actuator the cyclic loop is over. Fire-and-log.
func (c *Client) Stop(ctx context.Context) error {
	return c.get(ctx, "/stop")
}

// EmergencyShutdown is the last-resort endpoint used when the actuator
// stopped accepting commands mid-cycle. Fire-and-log.
func (c *Client) EmergencyShutdown(ctx context.Context) error {
	return c.get(ctx, "/emergency_shutdown")
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("actuator: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil
}
