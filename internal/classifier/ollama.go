package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/groupdesk/internal/ollama"
)

const maxImageBytes = 8 << 20

// OllamaChatter is the subset of the Ollama client the backend needs.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, format json.RawMessage) (string, error)
}

// OllamaBackend runs classification on a local vision model. Ollama takes
// images inline, so the URLs are downloaded first.
type OllamaBackend struct {
	client     OllamaChatter
	model      string
	httpClient *http.Client
	maxImage   int64
	logger     *slog.Logger
}

// NewOllamaBackend creates a backend for model.
func NewOllamaBackend(client OllamaChatter, model string, httpClient *http.Client) *OllamaBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaBackend{
		client:     client,
		model:      model,
		httpClient: httpClient,
		maxImage:   maxImageBytes,
		logger:     slog.Default(),
	}
}

func (b *OllamaBackend) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return b.client.Chat(ctx, b.model, []ollama.Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.User, Images: b.fetchImages(ctx, req.Images)},
	}, req.Schema)
}

// fetchImages downloads urls concurrently, preserving order. Images that
// cannot be fetched are logged and left out so the text still classifies.
func (b *OllamaBackend) fetchImages(ctx context.Context, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	fetched := make([][]byte, len(urls))
	var g errgroup.Group
	g.SetLimit(4)
	for i, u := range urls {
		g.Go(func() error {
			data, err := b.fetch(ctx, u)
			if err != nil {
				b.logger.Warn("skipping image", "url", u, "error", err)
				return nil
			}
			fetched[i] = data
			return nil
		})
	}
	g.Wait()

	var out []string
	for _, data := range fetched {
		if data != nil {
			out = append(out, base64.StdEncoding.EncodeToString(data))
		}
	}
	return out
}

func (b *OllamaBackend) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxImage+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.maxImage {
		return nil, fmt.Errorf("image exceeds %d bytes", b.maxImage)
	}
	return data, nil
}
