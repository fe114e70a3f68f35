package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/plushify/plushify/pkg/generation"
)

const (
	DefaultModel   = "google/gemini-2.5-flash-image"
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	chatCompletionsPath = "/chat/completions"
	defaultHTTPTimeout  = 60 * time.Second
	pngDataURIPrefix    = "data:image/png;base64,"
)

// Config configures the OpenRouter client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls the OpenRouter chat-completions API to transform images. The
// model must support image output; the modalities field requests it.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient wires an OpenRouter client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", generation.ErrExternalService)
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Content string          `json:"content"`
	Images  []responseImage `json:"images"`
}

type responseImage struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

// Transform submits the source image with the instruction and returns the
// model's output. A reply without an image is not an error; the caller
// decides how to treat the soft failure.
func (client *Client) Transform(ctx context.Context, image []byte, instruction string) (generation.TransformResult, error) {
	payload := chatRequest{
		Model: client.config.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []chatContentPart{
					{Type: "text", Text: instruction},
					{Type: "image_url", ImageURL: &chatImageURL{
						URL: pngDataURIPrefix + base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
		Modalities: []string{"image", "text"},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: encode request: %v", generation.ErrExternalService, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.BaseURL+chatCompletionsPath, bytes.NewReader(encoded))
	if err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: build request: %v", generation.ErrExternalService, err)
	}
	request.Header.Set("Authorization", "Bearer "+client.config.APIKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: %v", generation.ErrExternalService, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return generation.TransformResult{}, fmt.Errorf("%w: status %d", generation.ErrExternalService, response.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: decode response: %v", generation.ErrExternalService, err)
	}
	if len(decoded.Choices) == 0 {
		return generation.TransformResult{}, fmt.Errorf("%w: empty choices", generation.ErrExternalService)
	}

	message := decoded.Choices[0].Message
	result := generation.TransformResult{Description: message.Content}
	for _, candidate := range message.Images {
		data, ok := decodeDataURI(candidate.ImageURL.URL)
		if !ok {
			continue
		}
		result.Image = data
		break
	}
	if result.Image == nil {
		client.logger.Warn("transform reply carried no image",
			zap.String("model", client.config.Model))
	}
	return result, nil
}

func decodeDataURI(uri string) ([]byte, bool) {
	if !strings.HasPrefix(uri, pngDataURIPrefix) {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, pngDataURIPrefix))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
