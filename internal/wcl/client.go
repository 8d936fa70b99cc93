// Package wcl is the LogService client: OAuth2 client-credentials
// authentication and the two GraphQL queries the updater issues, character
// zone rankings and rate-limit accounting.
package wcl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxSpecs bounds the aliased ranking fields per query: up to five specs,
// each at raid sizes 10 and 25.
const maxSpecs = 5

// Spec is the query shape of one class spec.
type Spec struct {
	ID     int
	Slug   string
	Metric string // "dps" or "hps"
}

// CharacterQuery identifies one character refresh.
type CharacterQuery struct {
	Name   string
	Realm  string
	Region string
	Zone   int
	Specs  []Spec
}

// ZoneRankings is one spec-size ranking payload.
type ZoneRankings struct {
	BestPerformanceAverage   float64         `json:"bestPerformanceAverage"`
	MedianPerformanceAverage float64         `json:"medianPerformanceAverage"`
	Rankings                 []EncounterRank `json:"rankings"`
}

// EncounterRank is one encounter position within a ZoneRankings payload.
type EncounterRank struct {
	RankPercent   float64 `json:"rankPercent"`
	MedianPercent float64 `json:"medianPercent"`
	Spec          string  `json:"spec"`
}

// CharacterRankings is the decoded result of a character query.
type CharacterRankings struct {
	ClassID  int
	Payloads map[int]map[int]*ZoneRankings // size → spec id → payload
}

// RateLimit is the LogService's own credit accounting.
type RateLimit struct {
	LimitPerHour        float64 `json:"limitPerHour"`
	PointsSpentThisHour float64 `json:"pointsSpentThisHour"`
	PointsResetIn       int64   `json:"pointsResetIn"`
}

// Config holds endpoints and transport settings for the client.
type Config struct {
	TokenURL   string
	GraphQLURL string
	UserAgent  string
	Timeout    time.Duration
}

// Client issues synchronous LogService calls. The bearer token is lazily
// acquired on first use and cached for the process lifetime; SetCredentials
// discards it.
type Client struct {
	cfg    Config
	httpc  *http.Client
	tokens oauth2.TokenSource
	log    *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: timeout},
		log:   log,
	}
}

// SetCredentials installs the API client id/secret and resets the cached
// token. Empty credentials clear the token source.
func (c *Client) SetCredentials(id, secret string) {
	if id == "" || secret == "" {
		c.tokens = nil
		return
	}
	conf := &clientcredentials.Config{
		ClientID:     id,
		ClientSecret: secret,
		TokenURL:     c.cfg.TokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpc)
	c.tokens = conf.TokenSource(ctx)
}

// QueryCharacter fetches zone rankings for every known spec of the
// character's class at raid sizes 10 and 25. An empty spec list means the
// class is unknown to BaseData and no query is issued. The echo string is
// a dump of the query variables for diagnostics.
func (c *Client) QueryCharacter(ctx context.Context, q CharacterQuery) (*CharacterRankings, string, error) {
	if len(q.Specs) == 0 {
		return nil, "", nil
	}
	echo := fmt.Sprintf("name=%s realm=%s region=%s zone=%d specs=%d",
		q.Name, q.Realm, q.Region, q.Zone, len(q.Specs))

	doc := buildCharacterQuery(q)
	vars := map[string]any{
		"name":         q.Name,
		"serverSlug":   q.Realm,
		"serverRegion": q.Region,
	}

	var resp struct {
		CharacterData struct {
			Character json.RawMessage `json:"character"`
		} `json:"characterData"`
	}
	if err := c.post(ctx, doc, vars, &resp); err != nil {
		return nil, echo, err
	}
	if len(resp.CharacterData.Character) == 0 || string(resp.CharacterData.Character) == "null" {
		return nil, echo, nil // reachable, but no logs for this character
	}

	result, err := decodeCharacter(resp.CharacterData.Character, q.Specs)
	if err != nil {
		return nil, echo, err
	}
	return result, echo, nil
}

// QueryRateLimit fetches the hourly credit accounting.
func (c *Client) QueryRateLimit(ctx context.Context) (*RateLimit, error) {
	const doc = `query { rateLimitData { limitPerHour pointsSpentThisHour pointsResetIn } }`
	var resp struct {
		RateLimitData *RateLimit `json:"rateLimitData"`
	}
	if err := c.post(ctx, doc, nil, &resp); err != nil {
		return nil, err
	}
	if resp.RateLimitData == nil {
		return nil, fmt.Errorf("rate limit query returned no data")
	}
	return resp.RateLimitData, nil
}

// buildCharacterQuery renders the aliased ranking fields: one
// zoneRankings{size}_spec{n} pair per spec, metric and slug inlined.
func buildCharacterQuery(q CharacterQuery) string {
	var b strings.Builder
	b.WriteString("query ($name: String!, $serverSlug: String!, $serverRegion: String!) {\n")
	b.WriteString(" characterData {\n")
	b.WriteString("  character(name: $name, serverSlug: $serverSlug, serverRegion: $serverRegion) {\n")
	b.WriteString("   classId\n")
	specs := q.Specs
	if len(specs) > maxSpecs {
		specs = specs[:maxSpecs]
	}
	for i, spec := range specs {
		metric := spec.Metric
		if metric != "dps" && metric != "hps" {
			metric = "dps"
		}
		for _, size := range []int{10, 25} {
			fmt.Fprintf(&b, "   zoneRankings%d_spec%d: zoneRankings(zoneID: %d, specName: %q, metric: %s, size: %d)\n",
				size, i+1, q.Zone, spec.Slug, metric, size)
		}
	}
	b.WriteString("  }\n }\n}")
	return b.String()
}

// decodeCharacter unpacks the aliased ranking blobs back to size/spec.
func decodeCharacter(raw json.RawMessage, specs []Spec) (*CharacterRankings, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode character: %w", err)
	}

	result := &CharacterRankings{
		Payloads: map[int]map[int]*ZoneRankings{10: {}, 25: {}},
	}
	if classRaw, ok := fields["classId"]; ok {
		if err := json.Unmarshal(classRaw, &result.ClassID); err != nil {
			return nil, fmt.Errorf("decode classId: %w", err)
		}
	}
	if len(specs) > maxSpecs {
		specs = specs[:maxSpecs]
	}
	for i, spec := range specs {
		for _, size := range []int{10, 25} {
			alias := fmt.Sprintf("zoneRankings%d_spec%d", size, i+1)
			blob, ok := fields[alias]
			if !ok || string(blob) == "null" {
				continue
			}
			var zr ZoneRankings
			if err := json.Unmarshal(blob, &zr); err != nil {
				return nil, fmt.Errorf("decode %s: %w", alias, err)
			}
			result.Payloads[size][spec.ID] = &zr
		}
	}
	return result, nil
}

// post issues one GraphQL request. Timeouts, non-2xx responses, GraphQL
// errors and malformed JSON all surface as transport errors; the caller
// treats them as a rate-limit hint and reconciles.
func (c *Client) post(ctx context.Context, doc string, vars map[string]any, out any) error {
	if c.tokens == nil {
		return fmt.Errorf("no API credentials configured")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	body, err := json.Marshal(map[string]any{"query": doc, "variables": vars})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	token.SetAuthHeader(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graphql status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
