package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"warble/internal/util"
)

// Drafter produces the text for a reply to one post. An error means
// no usable draft; the caller skips the reply rather than posting
// something broken.
type Drafter interface {
	Draft(ctx context.Context, postText string) (string, error)
}

// Options tune the language model. Zero values fall back to the
// defaults below.
type Options struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 60
	defaultTemp      = 0.8
	topP             = 0.9
)

const defaultSystemPrompt = "You are a real human enthusiast posting from your personal account.\n" +
	"- Reply in 1 or 2 short lines max. Keep it casual, not perfect grammar.\n" +
	"- No 'As an AI' or formal disclaimers. No excessive emojis.\n" +
	"- If the post is technical, respond technically; if it's funny, be funny.\n" +
	"- Keep replies varied and human-like."

// openers occasionally lead a reply; the empty entries keep most
// replies opener-free.
var openers = []string{"Nice.", "Solid.", "Noted.", "Hmm.", "True.", "", "", ""}

// OpenAIDrafter asks the chat completions API for a short reply and
// shapes the result for posting.
type OpenAIDrafter struct {
	apiKey     string
	opts       Options
	baseURL    string
	httpClient *http.Client
	pickOpener func() string
}

var _ Drafter = (*OpenAIDrafter)(nil)

func NewOpenAIDrafter(apiKey string, opts Options) *OpenAIDrafter {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemp
	}
	return &OpenAIDrafter{
		apiKey:     apiKey,
		opts:       opts,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pickOpener: func() string { return openers[rand.Intn(len(openers))] },
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Draft asks for one short reply to postText. The returned text is
// ready to post: single line, under the platform length cap, with an
// occasional conversational opener.
func (d *OpenAIDrafter) Draft(ctx context.Context, postText string) (string, error) {
	payload := chatRequest{
		Model: d.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: d.opts.SystemPrompt},
			{Role: "user", Content: "Reply to this post in 1 short line:\n\n" + postText},
		},
		MaxTokens:   d.opts.MaxTokens,
		Temperature: d.opts.Temperature,
		TopP:        topP,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.WithMessage(err, "marshal chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", errors.WithMessage(err, "chat completions")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("llm status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.WithMessage(err, "decode chat response")
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty chat response")
	}
	text := util.StripQuotes(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty draft")
	}
	if opener := d.pickOpener(); opener != "" {
		text = opener + " " + text
	}
	return util.ShapeReply(text), nil
}
