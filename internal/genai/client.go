// Package genai talks to the hosted generative-content service. The
// service owns content quality; this client owns schema validity — a quiz
// that is not exactly N questions of four options with one correct answer
// never reaches a player.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
)

const optionsPerQuestion = 4

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPClient defaults to http.DefaultClient. There is deliberately no
	// client-side timeout or retry: the caller blocks until the service
	// answers or rejects, and surfaces a retryable error state.
	HTTPClient *http.Client
}

type Client struct {
	base   string
	key    string
	model  string
	client *http.Client
}

func NewClient(c Config) *Client {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(c.BaseURL, "/"),
		key:    c.APIKey,
		model:  c.Model,
		client: hc,
	}
}

// GenerateRequest describes the quiz to produce.
type GenerateRequest struct {
	Count      int      `json:"count"`
	Difficulty string   `json:"difficulty"`
	Topics     []string `json:"topics,omitempty"`
}

type generatePayload struct {
	Model        string          `json:"model"`
	Instructions string          `json:"instructions"`
	Input        GenerateRequest `json:"input"`
}

type generateResult struct {
	Questions []domain.QuizQuestion `json:"questions"`
}

// GenerateQuiz asks the service for req.Count finance questions and
// validates the result against the quiz schema.
func (c *Client) GenerateQuiz(ctx context.Context, req GenerateRequest) ([]domain.QuizQuestion, error) {
	var res generateResult
	err := c.post(ctx, "/v1/quiz", generatePayload{
		Model: c.model,
		Instructions: fmt.Sprintf(
			"Generate %d finance multiple-choice questions at %s difficulty. "+
				"Each question has exactly 4 options with exactly one correct.",
			req.Count, req.Difficulty),
		Input: req,
	}, &res)
	if err != nil {
		return nil, err
	}

	if err := validateQuiz(res.Questions, req.Count); err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation returned an unusable quiz"),
			errors.WithCause(err))
	}

	return res.Questions, nil
}

type explainPayload struct {
	Model    string `json:"model"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Selected string `json:"selected"`
}

type explainResult struct {
	Explanation string `json:"explanation"`
}

// Explain returns a textual explanation of why the correct answer is
// correct, mentioning the user's pick when it differs.
func (c *Client) Explain(ctx context.Context, q domain.QuizQuestion, selectedID int) (string, error) {
	correct, ok := q.CorrectOption()
	if !ok {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question has no correct option"))
	}

	var selected string
	for _, o := range q.Options {
		if o.OptionID == selectedID {
			selected = o.OptionText
		}
	}

	var res explainResult
	err := c.post(ctx, "/v1/explain", explainPayload{
		Model:    c.model,
		Question: q.QuestionText,
		Answer:   correct.OptionText,
		Selected: selected,
	}, &res)
	if err != nil {
		return "", err
	}

	if res.Explanation == "" {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation returned an empty explanation"))
	}

	return res.Explanation, nil
}

type shareImagePayload struct {
	Model       string `json:"model"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

type shareImageResult struct {
	ImageBase64 string `json:"imageBase64"`
	ContentType string `json:"contentType"`
}

// ShareImage produces a share card for a finished attempt. The result is
// raw base64 image data the caller uploads to the blob store.
func (c *Client) ShareImage(ctx context.Context, displayName string, finalScore int) (string, string, error) {
	var res shareImageResult
	err := c.post(ctx, "/v1/share-image", shareImagePayload{
		Model:       c.model,
		DisplayName: displayName,
		Score:       finalScore,
	}, &res)
	if err != nil {
		return "", "", err
	}

	if res.ImageBase64 == "" {
		return "", "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation returned no image"))
	}

	return res.ImageBase64, res.ContentType, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Internal(fmt.Errorf("genai: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return errors.Internal(fmt.Errorf("genai: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation unavailable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation failed: status=%d body=%s", resp.StatusCode, b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation returned malformed output"),
			errors.WithCause(err))
	}

	return nil
}

func validateQuiz(questions []domain.QuizQuestion, want int) error {
	if len(questions) != want {
		return fmt.Errorf("want %d questions, got %d", want, len(questions))
	}

	seen := make(map[int]bool, len(questions))
	for _, q := range questions {
		if q.QuestionText == "" {
			return fmt.Errorf("question %d: empty text", q.QuestionID)
		}
		if seen[q.QuestionID] {
			return fmt.Errorf("question %d: duplicate id", q.QuestionID)
		}
		seen[q.QuestionID] = true

		if len(q.Options) != optionsPerQuestion {
			return fmt.Errorf("question %d: want %d options, got %d", q.QuestionID, optionsPerQuestion, len(q.Options))
		}

		correct := 0
		for _, o := range q.Options {
			if o.OptionText == "" {
				return fmt.Errorf("question %d: empty option text", q.QuestionID)
			}
			if o.Correct {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("question %d: want exactly 1 correct option, got %d", q.QuestionID, correct)
		}
	}

	return nil
}
