package omnivore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the production Omnivore GraphQL endpoint.
const DefaultEndpoint = "https://api-prod.omnivore.app/api/graphql"

// clientHeader identifies this integration to the API.
const clientHeader = "logseq-omnivore"

// ClientOptions configures a Client. Zero values fall back to
// production defaults.
type ClientOptions struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to the Omnivore GraphQL API. It is a pure I/O boundary:
// no retries, no caching, no state beyond its configuration.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client from options, applying defaults for the
// endpoint and HTTP client.
func NewClient(opts ClientOptions) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
	}
}

const searchQuery = `
query Search($after: String, $first: Int, $query: String, $includeContent: Boolean, $format: String) {
  search(first: $first, after: $after, query: $query, includeContent: $includeContent, format: $format) {
    ... on SearchSuccess {
      edges {
        node {
          id
          title
          slug
          siteName
          originalArticleUrl
          author
          updatedAt
          description
          savedAt
          pageType
          content
          publishedAt
          readAt
          archivedAt
          isArchived
          readingProgressPercent
          highlights {
            id
            quote
            annotation
            patch
            updatedAt
            highlightPositionPercent
            labels {
              name
            }
            type
          }
          labels {
            name
          }
        }
      }
      pageInfo {
        hasNextPage
      }
    }
    ... on SearchError {
      errorCodes
    }
  }
}`

const updatesSinceQuery = `
query UpdatesSince($after: String, $first: Int, $since: Date!) {
  updatesSince(first: $first, after: $after, since: $since) {
    ... on UpdatesSinceSuccess {
      edges {
        updateReason
        node {
          slug
        }
      }
      pageInfo {
        hasNextPage
      }
    }
    ... on UpdatesSinceError {
      errorCodes
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type pageInfo struct {
	HasNextPage bool `json:"hasNextPage"`
}

type searchResponse struct {
	Data struct {
		Search struct {
			Edges []struct {
				Node Item `json:"node"`
			} `json:"edges"`
			PageInfo   pageInfo `json:"pageInfo"`
			ErrorCodes []string `json:"errorCodes"`
		} `json:"search"`
	} `json:"data"`
}

type updatesSinceResponse struct {
	Data struct {
		UpdatesSince struct {
			Edges []struct {
				UpdateReason UpdateReason `json:"updateReason"`
				Node         struct {
					Slug string `json:"slug"`
				} `json:"node"`
			} `json:"edges"`
			PageInfo   pageInfo `json:"pageInfo"`
			ErrorCodes []string `json:"errorCodes"`
		} `json:"updatesSince"`
	} `json:"data"`
}

// BuildQuery composes the search query string from the watermark and
// the user's filter. Results are always requested oldest-saved-first so
// that top insertion leaves the newest item first in the container.
func BuildQuery(since, filter string) string {
	var b strings.Builder
	if since != "" {
		b.WriteString("updated:")
		b.WriteString(since)
	}
	b.WriteString(" sort:saved-asc ")
	b.WriteString(filter)
	return b.String()
}

// SearchItems fetches one page of active items changed at or after
// since. Pagination is offset-based: the caller loops, advancing after
// by first, until hasNextPage is false.
func (c *Client) SearchItems(ctx context.Context, after, first int, since, filter string, includeContent bool, format string) ([]Item, bool, error) {
	req := graphqlRequest{
		Query: searchQuery,
		Variables: map[string]any{
			"after":          strconv.Itoa(after),
			"first":          first,
			"query":          BuildQuery(since, filter),
			"includeContent": includeContent,
			"format":         format,
		},
	}

	var res searchResponse
	if err := c.do(ctx, req, &res); err != nil {
		return nil, false, err
	}
	if len(res.Data.Search.ErrorCodes) > 0 {
		return nil, false, fmt.Errorf("search failed: %s", strings.Join(res.Data.Search.ErrorCodes, ", "))
	}

	items := make([]Item, 0, len(res.Data.Search.Edges))
	for _, e := range res.Data.Search.Edges {
		items = append(items, e.Node)
	}
	return items, res.Data.Search.PageInfo.HasNextPage, nil
}

// DeletedItemSlugs fetches one page of the updates-since feed and
// returns the slugs of items deleted at or after since. Non-delete
// reasons are filtered out locally.
func (c *Client) DeletedItemSlugs(ctx context.Context, after, first int, since string) ([]string, bool, error) {
	if since == "" {
		// The feed requires a lower bound; use a date predating the
		// service so a full resync sees every deletion.
		since = "2021-01-01"
	}

	req := graphqlRequest{
		Query: updatesSinceQuery,
		Variables: map[string]any{
			"after": strconv.Itoa(after),
			"first": first,
			"since": since,
		},
	}

	var res updatesSinceResponse
	if err := c.do(ctx, req, &res); err != nil {
		return nil, false, err
	}
	if len(res.Data.UpdatesSince.ErrorCodes) > 0 {
		return nil, false, fmt.Errorf("updates since failed: %s", strings.Join(res.Data.UpdatesSince.ErrorCodes, ", "))
	}

	var slugs []string
	for _, e := range res.Data.UpdatesSince.Edges {
		if e.UpdateReason == UpdateReasonDeleted {
			slugs = append(slugs, e.Node.Slug)
		}
	}
	return slugs, res.Data.UpdatesSince.PageInfo.HasNextPage, nil
}

// do posts a GraphQL request and decodes the response into out.
func (c *Client) do(ctx context.Context, payload graphqlRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("X-OmnivoreClient", clientHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
