package config

import (
	"net/http"
	"time"

	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/service/graph"
	"github.com/urfave/cli/v3"
)

// Graph holds CLI flags for the upstream API client
type Graph struct {
	baseURL     string
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func (x *Graph) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "graph-base-url",
			Usage:       "Microsoft Graph API base URL",
			Category:    "Graph",
			Value:       "https://graph.microsoft.com/v1.0",
			Sources:     cli.EnvVars("IRIS_GRAPH_BASE_URL"),
			Destination: &x.baseURL,
		},
		&cli.DurationFlag{
			Name:        "graph-timeout",
			Usage:       "Per-request timeout for upstream calls",
			Category:    "Graph",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("IRIS_GRAPH_TIMEOUT"),
			Destination: &x.timeout,
		},
		&cli.IntFlag{
			Name:        "graph-max-retries",
			Usage:       "Max retries for throttled or failing upstream requests",
			Category:    "Graph",
			Value:       3,
			Sources:     cli.EnvVars("IRIS_GRAPH_MAX_RETRIES"),
			Destination: &x.maxRetries,
		},
		&cli.DurationFlag{
			Name:        "graph-backoff-base",
			Usage:       "Base delay for exponential backoff",
			Category:    "Graph",
			Value:       time.Second,
			Sources:     cli.EnvVars("IRIS_GRAPH_BACKOFF_BASE"),
			Destination: &x.backoffBase,
		},
		&cli.DurationFlag{
			Name:        "graph-backoff-cap",
			Usage:       "Upper bound for exponential backoff delays",
			Category:    "Graph",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("IRIS_GRAPH_BACKOFF_CAP"),
			Destination: &x.backoffCap,
		},
	}
}

// Configure creates the upstream API client
func (x *Graph) Configure(tokens interfaces.TokenSource) *graph.Client {
	return graph.New(tokens,
		graph.WithBaseURL(x.baseURL),
		graph.WithHTTPClient(&http.Client{Timeout: x.timeout}),
		graph.WithMaxRetries(x.maxRetries),
		graph.WithBackoff(x.backoffBase, x.backoffCap),
	)
}
