package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	hibpRangeURL  = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent = "vaultcore/0.1"
)

// HIBPResult captures whether a password hash suffix was found in the HIBP dataset.
type HIBPResult struct {
	Found bool
	Count int
}

// HIBPClient queries the Pwned Passwords range API. The zero value is not usable; use
// NewHIBPClient.
type HIBPClient struct {
	BaseURL    string
	HTTP       *http.Client
	MaxRetries uint64
	Log        *slog.Logger

	initialInterval time.Duration
}

// NewHIBPClient returns a client for the public API with a short timeout and two retries.
func NewHIBPClient() *HIBPClient {
	return &HIBPClient{
		BaseURL:         hibpRangeURL,
		HTTP:            &http.Client{Timeout: 4 * time.Second},
		MaxRetries:      2,
		Log:             slog.Default(),
		initialInterval: 250 * time.Millisecond,
	}
}

// CheckHIBP queries the HIBP range API using k-anonymity.
// It never sends the full password; only a 5-hex prefix of SHA1(pw).
// Behavior:
//   - Computes SHA-1 of the password, upper-cases its hex, splits into:
//   - prefix = first 5 hex chars (sent to HIBP)
//   - suffix = last 35 hex chars (kept locally)
//   - Network errors, 429 and 5xx responses are retried with exponential backoff; other
//     non-200 statuses fail immediately.
//   - Streams the response line-by-line ("SUFFIX:COUNT"), case-insensitively matches our
//     suffix, parses COUNT, and returns Found/Count on match.
//   - If no match is found, returns Found=false, Count=0 with nil error.
func (c *HIBPClient) CheckHIBP(ctx context.Context, pw string) (HIBPResult, error) {
	sum := sha1.Sum([]byte(pw))
	hashHex := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := hashHex[:5]
	suffix := hashHex[5:]

	exp := backoff.NewExponentialBackOff()
	if c.initialInterval > 0 {
		exp.InitialInterval = c.initialInterval
	}
	exp.MaxElapsedTime = 15 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.MaxRetries), ctx)

	var result HIBPResult
	op := func() error {
		var err error
		result, err = c.queryRange(ctx, prefix, suffix)
		return err
	}
	notify := func(err error, d time.Duration) {
		c.logger().Debug("retrying breach lookup", "in", d, "err", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return HIBPResult{}, err
	}
	return result, nil
}

func (c *HIBPClient) queryRange(ctx context.Context, prefix, suffix string) (HIBPResult, error) {
	var result HIBPResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+prefix, nil)
	if err != nil {
		return result, backoff.Permanent(fmt.Errorf("hibp request: %w", err))
	}
	req.Header.Set("User-Agent", hibpUserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return result, fmt.Errorf("hibp query: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return result, fmt.Errorf("hibp query: unexpected status %s", resp.Status)
	default:
		return result, backoff.Permanent(fmt.Errorf("hibp query: unexpected status %s", resp.Status))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		partIdx := strings.IndexByte(line, ':')
		if partIdx == -1 {
			continue
		}

		lineSuffix := line[:partIdx]
		countStr := strings.TrimSpace(line[partIdx+1:])
		if !strings.EqualFold(lineSuffix, suffix) {
			continue
		}

		count, err := strconv.Atoi(countStr)
		if err != nil {
			return result, backoff.Permanent(fmt.Errorf("hibp parse count: %w", err))
		}
		// Padding entries carry a zero count.
		if count == 0 {
			continue
		}

		result.Found = true
		result.Count = count
		return result, nil
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("hibp read response: %w", err)
	}

	return result, nil
}

func (c *HIBPClient) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
