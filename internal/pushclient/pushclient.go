// Package pushclient posts APNS background-refresh notifications that
// deliver a rotated client secret out of band, per §4.2.
package pushclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/metrics"
)

// Result records the outcome of a single push attempt.
type Result struct {
	Success          bool
	StatusCode       int
	ProviderUniqueID string
	FailureReason    string
}

type payload struct {
	APS    aps    `json:"aps"`
	Secret string `json:"secret"`
}

type aps struct {
	ContentAvailable int `json:"content-available"`
}

// Client posts background-refresh pushes to APNS.
type Client struct {
	httpClient *http.Client
	server     string // e.g. https://api.push.apple.com
	topic      string
	log        zerolog.Logger
}

func New(server, topic string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				ForceAttemptHTTP2: true,
				TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		server: server,
		topic:  topic,
		log:    log.With().Str("component", "pushclient").Logger(),
	}
}

// Push delivers a rotated secret to deviceToken. Any network failure or
// non-2xx response is recorded on the Result and returned as an error;
// callers must NOT roll back the rotation on failure — the client will
// retry on next launch and the server will re-push naturally.
func (c *Client) Push(ctx context.Context, deviceToken, apnsJWT, pushRequestID string, secret []byte) (Result, error) {
	metrics.PushAttemptsTotal.Inc()

	body, err := json.Marshal(payload{
		APS:    aps{ContentAvailable: 1},
		Secret: base64.StdEncoding.EncodeToString(secret),
	})
	if err != nil {
		metrics.PushFailuresTotal.WithLabelValues("marshal").Inc()
		return Result{}, fmt.Errorf("pushclient: marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.server, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.PushFailuresTotal.WithLabelValues("build_request").Inc()
		return Result{}, fmt.Errorf("pushclient: build request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+apnsJWT)
	req.Header.Set("apns-id", pushRequestID)
	req.Header.Set("apns-push-type", "background")
	req.Header.Set("apns-priority", "5")
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("push_id", pushRequestID).Msg("push network failure")
		metrics.PushFailuresTotal.WithLabelValues("network").Inc()
		return Result{Success: false, FailureReason: err.Error()}, err
	}
	defer resp.Body.Close()

	providerID := resp.Header.Get("apns-id")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("push_id", pushRequestID).Msg("push rejected")
		metrics.PushFailuresTotal.WithLabelValues("rejected").Inc()
		return Result{
			Success:          false,
			StatusCode:       resp.StatusCode,
			ProviderUniqueID: providerID,
			FailureReason:    fmt.Sprintf("apns status %d", resp.StatusCode),
		}, fmt.Errorf("pushclient: apns status %d", resp.StatusCode)
	}

	c.log.Debug().Str("push_id", pushRequestID).Str("provider_id", providerID).Msg("push delivered")
	return Result{Success: true, StatusCode: resp.StatusCode, ProviderUniqueID: providerID}, nil
}
