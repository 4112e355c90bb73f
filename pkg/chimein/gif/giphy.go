// Package gif resolves a short keyword to a GIF URL using the Giphy search API.
package gif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ErrNoAPIKey is returned when no Giphy key is configured.
var ErrNoAPIKey = errors.New("gif: giphy api key not configured")

const defaultEndpoint = "https://api.giphy.com/v1/gifs/search"

// Config configures the Giphy client.
type Config struct {
	// APIKey is the Giphy key. Without it GIFs are disabled.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the search URL.
	Endpoint string `yaml:"endpoint"`

	// Limit is how many results to pick from.
	Limit int `yaml:"limit"`

	// Rating is the content rating filter (g, pg, pg-13, r).
	Rating string `yaml:"rating"`

	// Lang is the search language.
	Lang string `yaml:"lang"`

	// Timeout bounds one search.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerMinute throttles outbound searches. Giphy beta keys allow
	// about 100 calls per hour.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

// DefaultConfig returns the default Giphy configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:          defaultEndpoint,
		Limit:             20,
		Rating:            "pg-13",
		Lang:              "ru",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 30,
	}
}

// Giphy searches GIFs.
type Giphy struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	pick    func(n int) int
}

// New creates a Giphy client. It fails with ErrNoAPIKey when no key is set,
// so callers can run without GIFs.
func New(cfg Config, logger *slog.Logger) (*Giphy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Rating == "" {
		cfg.Rating = def.Rating
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}

	return &Giphy{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "gif"),
		pick:    rand.IntN,
	}, nil
}

// Search returns a random original-size GIF URL for the query. found is
// false when the search has no results or the rate budget is spent.
func (g *Giphy) Search(ctx context.Context, query string) (string, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false, nil
	}
	if !g.limiter.Allow() {
		g.logger.Debug("gif search throttled", "query", query)
		return "", false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("api_key", g.cfg.APIKey)
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(g.cfg.Limit))
	params.Set("rating", g.cfg.Rating)
	if g.cfg.Lang != "" {
		params.Set("lang", g.cfg.Lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("gif: building request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		// *url.Error embeds the request URL, which carries the API key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return "", false, fmt.Errorf("gif: search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("gif: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("gif: search returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var urls []string
	for _, u := range gjson.GetBytes(body, "data.#.images.original.url").Array() {
		if s := u.String(); s != "" {
			urls = append(urls, s)
		}
	}
	if len(urls) == 0 {
		return "", false, nil
	}
	return urls[g.pick(len(urls))], true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
