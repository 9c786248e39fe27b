/**
 * @description
 * This package provides a client for interacting with an external yield source
 * API. It encapsulates the logic for making authenticated HTTP requests to the
 * provider's position and market endpoints, handling request body construction,
 * and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package yieldclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for a yield source API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new yield source API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PositionRequest is the payload for deposit and withdrawal requests.
type PositionRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"` // in base units
}

// PositionResponse is the expected response from the position endpoints.
// Amount reports what the provider actually moved, which on withdrawals may be
// less than requested when liquidity is constrained.
type PositionResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Asset  string `json:"asset"`
		Amount int64  `json:"amount"`
	} `json:"data"`
}

// RateResponse is the expected response from the market rate endpoint.
type RateResponse struct {
	Data struct {
		Asset   string `json:"asset"`
		RateBps int64  `json:"rate_bps"`
	} `json:"data"`
}

// TVLResponse is the expected response from the market TVL endpoint.
type TVLResponse struct {
	Data struct {
		Asset            string `json:"asset"`
		TotalValueLocked int64  `json:"total_value_locked"`
	} `json:"data"`
}

// ErrorResponse represents an error from the yield source API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("yield source api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown yield source api error"
}

// Deposit asks the provider to open or top up a position.
func (c *Client) Deposit(ctx context.Context, asset string, amount int64) (*PositionResponse, error) {
	return c.doPosition(ctx, "/api/v1/positions/deposits", PositionRequest{Asset: asset, Amount: amount})
}

// Withdraw asks the provider to unwind a position. The response reports the
// amount actually returned.
func (c *Client) Withdraw(ctx context.Context, asset string, amount int64) (*PositionResponse, error) {
	return c.doPosition(ctx, "/api/v1/positions/withdrawals", PositionRequest{Asset: asset, Amount: amount})
}

// doPosition is a generic helper function to execute position requests.
func (c *Client) doPosition(ctx context.Context, path string, payload PositionRequest) (*PositionResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal position request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create position request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute position request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read position response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=yield_client op=position path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=yield_client op=position path=%s status=%d title=%q detail=%q", path, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp PositionResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// GetRate fetches the current yield rate for an asset from the provider.
func (c *Client) GetRate(ctx context.Context, asset string) (*RateResponse, error) {
	url := c.BaseURL + "/api/v1/markets/" + asset + "/rate"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute rate request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=yield_client op=get_rate asset=%s status=%d msg=\"non-2xx response (unparsable error body)\"", asset, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=yield_client op=get_rate asset=%s status=%d title=%q detail=%q", asset, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var rateResp RateResponse
	if err := json.Unmarshal(bodyBytes, &rateResp); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}

	return &rateResp, nil
}

// GetTVL fetches the total value locked for an asset from the provider.
func (c *Client) GetTVL(ctx context.Context, asset string) (*TVLResponse, error) {
	url := c.BaseURL + "/api/v1/markets/" + asset + "/tvl"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tvl request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute tvl request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tvl response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=yield_client op=get_tvl asset=%s status=%d msg=\"non-2xx response (unparsable error body)\"", asset, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=yield_client op=get_tvl asset=%s status=%d title=%q detail=%q", asset, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var tvlResp TVLResponse
	if err := json.Unmarshal(bodyBytes, &tvlResp); err != nil {
		return nil, fmt.Errorf("failed to decode tvl response: %w", err)
	}

	return &tvlResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
