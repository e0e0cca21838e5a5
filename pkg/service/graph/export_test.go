package graph

import "time"

// HTTPTimeout exposes the configured HTTP client timeout for tests
func (c *Client) HTTPTimeout() time.Duration {
	return c.httpClient.Timeout
}
