package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultArkeselURL = "https://sms.arkesel.com/api/v2/sms/send"

// ArkeselClient sends SMS through the Arkesel gateway.
type ArkeselClient struct {
	apiKey   string
	senderID string
	baseURL  string
	client   *http.Client
	logger   *logrus.Logger
}

// NewArkeselClient returns a client with a bounded request timeout. baseURL
// overrides the production endpoint when non-empty (used in tests).
func NewArkeselClient(apiKey, senderID, baseURL string, timeout time.Duration, logger *logrus.Logger) *ArkeselClient {
	if baseURL == "" {
		baseURL = defaultArkeselURL
	}
	return &ArkeselClient{
		apiKey:   apiKey,
		senderID: senderID,
		baseURL:  baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type arkeselRequest struct {
	Sender     string   `json:"sender"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

type arkeselResponse struct {
	Status string `json:"status"`
	Data   []struct {
		Recipient string `json:"recipient"`
		ID        string `json:"id"`
	} `json:"data"`
	Message string `json:"message"`
}

// Send dispatches one message and returns the provider message ID.
func (c *ArkeselClient) Send(ctx context.Context, to, message string) (string, error) {
	payload, err := json.Marshal(arkeselRequest{
		Sender:     c.senderID,
		Message:    message,
		Recipients: []string{to},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Error("SMS gateway request failed")
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read SMS gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("SMS gateway returned non-OK status")
		return "", fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var parsed arkeselResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse SMS gateway response: %w", err)
	}

	if parsed.Status != "success" {
		return "", fmt.Errorf("sms gateway rejected message: %s", parsed.Message)
	}

	messageID := ""
	if len(parsed.Data) > 0 {
		messageID = parsed.Data[0].ID
	}
	return messageID, nil
}
