package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioClient places outbound calls through the carrier's REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	fromNumber string

	baseURL    string
	httpClient *http.Client
}

func NewTwilioClient(accountSID, authToken, fromNumber string) *TwilioClient {
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type twilioCallResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// CreateCall dials the given number and points the call at the voice webhook.
// It returns the carrier's call identifier.
func (c *TwilioClient) CreateCall(ctx context.Context, to, voiceURL string) (string, error) {
	form := url.Values{
		"To":   {to},
		"From": {c.fromNumber},
		"Url":  {voiceURL},
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read call response: %w", err)
	}

	var decoded twilioCallResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode call response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decoded.Message != "" {
			return "", fmt.Errorf("carrier rejected call (status %d): %s", resp.StatusCode, decoded.Message)
		}
		return "", fmt.Errorf("carrier rejected call (status %d)", resp.StatusCode)
	}
	if decoded.SID == "" {
		return "", fmt.Errorf("carrier response missing call sid")
	}
	return decoded.SID, nil
}
