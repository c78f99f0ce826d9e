// Package channel holds the chat platform transports. Each one publishes
// inbound messages to the bus and exposes the send/history/delete surface the
// dispatcher needs.
package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// maxAttachmentBytes caps attachment downloads; only small text files are
// merged into queries.
const maxAttachmentBytes = 1 << 20

const defaultHistoryLimit = 20

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// allowSet restricts which author IDs may talk to the bot. Empty allows all.
type allowSet []string

func newAllowSet(ids []string) allowSet {
	var out allowSet
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (a allowSet) permits(id string) bool {
	return len(a) == 0 || slices.Contains(a, id)
}

// fetchURL downloads a small file. header may be nil.
func fetchURL(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	if client == nil {
		client = defaultHTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment larger than %d bytes", maxAttachmentBytes)
	}
	return data, nil
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, ceiling)
}
