/**
 * @description
 * Script to push remote strategy rates into a ledger-service node.
 * Each node learns about yield opportunities on other chains only through
 * this feed, so operators run it (by hand or from a cron wrapper) against
 * every node that should consider relocating funds.
 *
 * Usage:
 *   go run ./cmd/ratefeed <chain-id>:<asset>:<strategy-id>:<rate-bps> [...]
 *
 * Example:
 *   go run ./cmd/ratefeed chain-b:USDC:savings-vault:420 chain-c:USDC:external-yield:510
 *
 * @dependencies
 * - Go 1.19+
 * - Environment variables: LEDGER_SERVICE_URL, LEDGER_SERVICE_INTERNAL_API_KEY
 */

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// rateReport mirrors one row of the admin rate feed endpoint.
type rateReport struct {
	ChainID    string `json:"chain_id"`
	Asset      string `json:"asset"`
	StrategyID string `json:"strategy_id"`
	RateBps    int64  `json:"rate_bps"`
}

// apiError represents an error response from the ledger-service API
type apiError struct {
	Error string `json:"error"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/ratefeed <chain-id>:<asset>:<strategy-id>:<rate-bps> [...]")
		fmt.Println("Example: go run ./cmd/ratefeed chain-b:USDC:savings-vault:420")
		os.Exit(1)
	}

	// Load environment variables from .env file if it exists
	loadEnvFile("../.env")
	loadEnvFile(".env")

	// Get environment variables
	apiKey := os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY")
	baseURL := os.Getenv("LEDGER_SERVICE_URL")

	if apiKey == "" {
		log.Fatal("LEDGER_SERVICE_INTERNAL_API_KEY environment variable is required")
	}

	if baseURL == "" {
		baseURL = "http://localhost:8084"
		fmt.Println("Using default service URL:", baseURL)
	}

	reports := make([]rateReport, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		report, err := parseReport(arg)
		if err != nil {
			log.Fatalf("Invalid rate report %q: %v", arg, err)
		}
		reports = append(reports, report)
	}

	fmt.Printf("Pushing %d rate report(s) to %s:\n", len(reports), baseURL)
	for _, report := range reports {
		fmt.Printf("  %s %s via %s -> %d bps\n", report.ChainID, report.Asset, report.StrategyID, report.RateBps)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pushRates(ctx, baseURL, apiKey, reports); err != nil {
		log.Fatalf("Failed to push rates: %v", err)
	}

	fmt.Printf("Successfully pushed %d rate report(s)\n", len(reports))
}

// parseReport splits one chain:asset:strategy:bps argument.
func parseReport(arg string) (rateReport, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 4 {
		return rateReport{}, fmt.Errorf("expected <chain-id>:<asset>:<strategy-id>:<rate-bps>")
	}
	rateBps, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return rateReport{}, fmt.Errorf("rate-bps must be an integer: %w", err)
	}
	return rateReport{
		ChainID:    strings.TrimSpace(parts[0]),
		Asset:      strings.TrimSpace(parts[1]),
		StrategyID: strings.TrimSpace(parts[2]),
		RateBps:    rateBps,
	}, nil
}

// loadEnvFile loads environment variables from a .env file
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // File doesn't exist, that's okay
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			// Remove quotes if present
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
}

// pushRates sends the reports to the node's admin rate feed endpoint
func pushRates(ctx context.Context, baseURL, apiKey string, reports []rateReport) error {
	url := fmt.Sprintf("%s/api/v1/admin/rates", baseURL)

	payload, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("failed to encode reports: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", apiKey)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var svcErr apiError
		if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error != "" {
			return fmt.Errorf("ledger-service API error: %s", svcErr.Error)
		}
		return fmt.Errorf("ledger-service API error with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
