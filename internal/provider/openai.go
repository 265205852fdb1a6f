package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend implements Backend against the OpenAI chat completion API.
// Model names are configurable; generation and classification may use
// different models.
type OpenAIBackend struct {
	client        *openai.Client
	generateModel string
	classifyModel string
}

// NewOpenAIBackend constructs an OpenAI-backed provider. classifyModel
// defaults to generateModel when empty.
func NewOpenAIBackend(apiKey, generateModel, classifyModel string) *OpenAIBackend {
	if generateModel == "" {
		generateModel = "gpt-4o-mini"
	}
	if classifyModel == "" {
		classifyModel = generateModel
	}
	return &OpenAIBackend{
		client:        openai.NewClient(apiKey),
		generateModel: generateModel,
		classifyModel: classifyModel,
	}
}

// Generate sends the message history to the chat completion API and returns
// the assistant's candidate reply.
func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if b.client == nil {
		return "", errors.New("openai client not initialized")
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.generateModel,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

const redFlagClassifyPrompt = `You are a medical triage classifier. Read the patient message (and any prior turns given as context) and decide whether it indicates a medical emergency.
Respond with a single JSON object and nothing else:
{"verdict": "none"|"urgent"|"emergency", "label": "<short condition label or empty>", "confidence": <0..1>}`

const safetyClassifyPrompt = `You are a safety reviewer for a medical intake assistant. The assistant must never give a diagnosis, medication advice, or a prognosis. Review the draft reply (the patient message it answers is given as context).
Respond with a single JSON object and nothing else:
{"verdict": "safe"|"diagnosis"|"medication_advice"|"prognosis", "confidence": <0..1>}`

// Classify runs one of the classification tasks and parses the JSON verdict.
func (b *OpenAIBackend) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	if b.client == nil {
		return ClassifyResult{}, errors.New("openai client not initialized")
	}
	var system string
	switch req.Task {
	case TaskRedFlag:
		system = redFlagClassifyPrompt
	case TaskSafety:
		system = safetyClassifyPrompt
	default:
		return ClassifyResult{}, fmt.Errorf("unknown classify task %q", req.Task)
	}

	var sb strings.Builder
	for _, c := range req.Context {
		sb.WriteString("Context: ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	sb.WriteString("Text: ")
	sb.WriteString(req.Text)

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.classifyModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return ClassifyResult{}, err
	}
	if len(resp.Choices) == 0 {
		return ClassifyResult{}, errors.New("empty completion")
	}
	return parseClassifyResult(resp.Choices[0].Message.Content)
}

// parseClassifyResult extracts the verdict JSON from the model output,
// tolerating surrounding prose or code fences.
func parseClassifyResult(content string) (ClassifyResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ClassifyResult{}, fmt.Errorf("no JSON verdict in classifier output")
	}
	var res ClassifyResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return ClassifyResult{}, fmt.Errorf("parsing classifier verdict: %w", err)
	}
	if res.Verdict == "" {
		return ClassifyResult{}, fmt.Errorf("classifier verdict missing")
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		res.Confidence = 0
	}
	return res, nil
}
