package opensearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/botvisor/internal/history"
)

// DefaultIndex receives the events when the DSN names none.
const DefaultIndex = "bot-history"

// Sink indexes events in OpenSearch (or Elasticsearch) with one
// POST <index>/_doc per event.
type Sink struct {
	r     *resty.Client
	index string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(5*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Sink{r: r, index: index}
}

// WithBasicAuth sets credentials for secured clusters.
func (s *Sink) WithBasicAuth(user, pass string) *Sink {
	s.r.SetBasicAuth(user, pass)
	return s
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	resp, err := s.r.R().
		SetContext(ctx).
		SetPathParam("index", s.index).
		SetBody(e).
		Post("/{index}/_doc")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (s *Sink) Close() error { return nil }
