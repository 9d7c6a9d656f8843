package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
)

// HTTPRetriever 调用远端检索服务：POST {endpoint} {"query","top_k"} -> {"documents":[{"id","content","source"}]}。
type HTTPRetriever struct {
	client   *resty.Client
	endpoint string
	topK     int
}

var _ retriever.Retriever = (*HTTPRetriever)(nil)

func NewHTTPRetriever(endpoint string, topK int, timeout time.Duration) (*HTTPRetriever, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("knowledge.endpoint is required for http mode")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRetriever{
		client:   resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		endpoint: strings.TrimRight(endpoint, "/"),
		topK:     topK,
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Documents []struct {
		ID      string  `json:"id"`
		Content string  `json:"content"`
		Source  string  `json:"source"`
		Score   float64 `json:"score"`
	} `json:"documents"`
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	var out searchResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, TopK: topK}).
		SetResult(&out).
		Post(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("knowledge search: http %d: %s", resp.StatusCode(), resp.String())
	}

	docs := make([]*schema.Document, 0, len(out.Documents))
	for _, d := range out.Documents {
		doc := &schema.Document{ID: d.ID, Content: d.Content, MetaData: map[string]any{"source": d.Source}}
		docs = append(docs, doc.WithScore(d.Score))
	}
	return docs, nil
}
