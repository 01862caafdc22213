// Package circle fetches CCTP burn attestations from Circle's Iris API.
package circle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/config"
)

// StatusComplete is the attestation status that carries a usable blob.
const StatusComplete = "complete"

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
}

// Client represents a Circle attestation API client
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a new attestation client
func NewClient(cfg *config.CircleConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.AttestationURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Attestation fetches the attestation for a message hash once. It returns
// ready=false while Circle has not finished signing; the caller owns the
// poll loop.
func (c *Client) Attestation(ctx context.Context, messageHash string) (string, bool, error) {
	if !strings.HasPrefix(messageHash, "0x") {
		messageHash = "0x" + messageHash
	}
	url := fmt.Sprintf("%s/attestations/%s", c.baseURL, messageHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build attestation request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()

	// Circle returns 404 until the burn is observed.
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("attestation request returned status %d", resp.StatusCode)
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("failed to decode attestation response: %w", err)
	}

	if body.Status != StatusComplete {
		c.logger.Debug("Attestation not ready",
			zap.String("message_hash", messageHash),
			zap.String("status", body.Status))
		return "", false, nil
	}
	return body.Attestation, true, nil
}
