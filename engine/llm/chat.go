package llm

import (
	"context"

	"github.com/kbqa/kbqa/engine/domain"
)

// SystemPrompt is sent ahead of every user prompt.
const SystemPrompt = "You answer using only provided context. If missing, say you don't know."

// ChatClient produces answers through POST {base}/chat/completions.
type ChatClient struct {
	client
}

// NewChatClient creates a generation gateway.
func NewChatClient(opts Options) *ChatClient {
	return &ChatClient{client: newClient(opts)}
}

// Model returns the chat model name.
func (c *ChatClient) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends prompt as the user message and returns the first choice.
func (c *ChatClient) Chat(ctx context.Context, prompt string) (string, error) {
	const op = "llm.chat"
	if err := c.checkConfig(op); err != nil {
		return "", err
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	var resp chatResponse
	if err := c.postJSON(ctx, op, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.Upstreamf(op, "response has no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == nil {
		return "", domain.Upstreamf(op, "first choice has no message content")
	}
	return *content, nil
}
