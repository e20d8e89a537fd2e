// Package llm runs the three structured-output calls the bot makes per
// turn: the chat filter, the question classifier and the reply splitter.
// Every call pins a JSON schema so the model cannot reply free-form.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// completer abstracts the chat-completion call for testability.
type completer interface {
	complete(ctx context.Context, model, system, user, schemaName string, schema map[string]interface{}) (string, error)
}

// Models names the model used for each call.
type Models struct {
	Classify string
	Filter   string
	Split    string
}

// LLM issues the structured calls.
type LLM struct {
	completer  completer
	models     Models
	categories []Category
}

// Opts holds parameters for creating an LLM.
type Opts struct {
	APIKey     string
	BaseURL    string // empty for the default endpoint
	Models     Models
	Categories []Category // defaults to DefaultCategoryTree
}

// New creates an LLM backed by an OpenAI-compatible endpoint.
func New(opts Opts) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if opts.Models.Classify == "" || opts.Models.Filter == "" || opts.Models.Split == "" {
		return nil, fmt.Errorf("llm: all model names are required")
	}
	cats := opts.Categories
	if cats == nil {
		cats = DefaultCategoryTree()
	}
	clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &LLM{
		completer:  &openaiCompleter{client: &client},
		models:     opts.Models,
		categories: cats,
	}, nil
}

// openaiCompleter is the production completer.
type openaiCompleter struct {
	client *openai.Client
}

func (c *openaiCompleter) complete(ctx context.Context, model, system, user, schemaName string, schema map[string]interface{}) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   schemaName,
				Schema: schema,
				Strict: openai.Bool(true),
			},
		},
	}
	completion, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: %s completion: %w", schemaName, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("llm: %s completion returned no choices", schemaName)
	}
	return completion.Choices[0].Message.Content, nil
}

// FilterResult is the chat filter verdict for the latest user messages.
type FilterResult struct {
	Processed  bool    `json:"is_processed"`
	Report     bool    `json:"is_report"`
	Handover   bool    `json:"is_handover"`
	Confidence float64 `json:"confidence"`
}

func filterSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"is_processed": map[string]interface{}{"type": "boolean"},
			"is_report":    map[string]interface{}{"type": "boolean"},
			"is_handover":  map[string]interface{}{"type": "boolean"},
			"confidence":   map[string]interface{}{"type": "number"},
		},
		"required":             []string{"is_processed", "is_report", "is_handover", "confidence"},
		"additionalProperties": false,
	}
}

// Filter decides whether the recent conversation is something the bot can
// answer, and whether the user wants a report or a human agent.
func (l *LLM) Filter(ctx context.Context, history []string) (*FilterResult, error) {
	system := fmt.Sprintf(filterSystemPrompt, defaultFilterInstruction, defaultFilterExamples)
	user := fmt.Sprintf("Messages:\n\n%s", strings.Join(history, "\n"))
	raw, err := l.completer.complete(ctx, l.models.Filter, system, user, "chat_filter", filterSchema())
	if err != nil {
		return nil, err
	}
	var result FilterResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("llm: decode chat_filter result: %w", err)
	}
	return &result, nil
}

func classifySchema(classNames []string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question_class": map[string]interface{}{
				"type": "string",
				"enum": classNames,
			},
		},
		"required":             []string{"question_class"},
		"additionalProperties": false,
	}
}

// Classify walks the category tree, reclassifying at each level that has
// subcategories. It returns the path of class names and the tool of the
// final category.
func (l *LLM) Classify(ctx context.Context, history []string) (path []string, tool string, err error) {
	cats := l.categories
	user := strings.Join(history, "\n")
	for depth := 1; ; depth++ {
		classNames := names(cats)
		descriptions := make([]string, len(cats))
		for i, c := range cats {
			descriptions[i] = fmt.Sprintf("- %s: %s", c.Name, c.Description)
		}
		system := fmt.Sprintf(classifySystemPrompt,
			strings.Join(classNames, ", "), strings.Join(descriptions, "\n"))

		raw, err := l.completer.complete(ctx, l.models.Classify, system, user, "question_class", classifySchema(classNames))
		if err != nil {
			return nil, "", err
		}
		var result struct {
			QuestionClass string `json:"question_class"`
		}
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, "", fmt.Errorf("llm: decode question_class result: %w", err)
		}
		chosen := find(cats, result.QuestionClass)
		if chosen == nil {
			return nil, "", fmt.Errorf("llm: question_class %q is not a known class", result.QuestionClass)
		}
		path = append(path, chosen.Name)
		log.Printf("llm: question class at depth %d: %s", depth, chosen.Name)
		if len(chosen.Subclasses) == 0 {
			return path, chosen.Tool, nil
		}
		cats = chosen.Subclasses
	}
}

func splitSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"split_messages_result": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required":             []string{"split_messages_result"},
		"additionalProperties": false,
	}
}

// Split merges the raw backend replies into user-facing WhatsApp messages.
// When a report file is being sent, the model is told to mention it and the
// placeholder is appended to the input.
func (l *LLM) Split(ctx context.Context, replies []string, withReport bool, reportPlaceholder string) ([]string, error) {
	joined := strings.Join(replies, "\n\n")
	extra := ""
	if withReport {
		extra = splitReportInstruction
		joined += "\n\n" + reportPlaceholder
	}
	system := fmt.Sprintf(splitSystemPrompt, extra)
	user := fmt.Sprintf(splitUserPrompt, joined)
	raw, err := l.completer.complete(ctx, l.models.Split, system, user, "split_messages", splitSchema())
	if err != nil {
		return nil, err
	}
	var result struct {
		Parts []string `json:"split_messages_result"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("llm: decode split_messages result: %w", err)
	}
	return result.Parts, nil
}
