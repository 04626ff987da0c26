package chat

import (
	"context"
	"strings"
)

// HeuristicProvider is the terminal fallback in the provider chain. It
// answers from keyword rules, never errors, and never returns empty content,
// so a conversation always gets some reply even with every AI backend down.
type HeuristicProvider struct{}

func NewHeuristicProvider() *HeuristicProvider {
	return &HeuristicProvider{}
}

func (p *HeuristicProvider) Name() string { return "heuristic" }

type heuristicRule struct {
	keywords []string
	reply    string
}

var heuristicRules = []heuristicRule{
	{
		keywords: []string{"hello", "hi ", "hey", "good morning", "good afternoon", "good evening"},
		reply:    "Hello! How can I help you today?",
	},
	{
		keywords: []string{"thank", "thanks", "appreciate"},
		reply:    "You're welcome! Is there anything else I can help you with?",
	},
	{
		keywords: []string{"price", "pricing", "cost", "how much"},
		reply:    "I don't have live pricing details at the moment. An agent will follow up with exact pricing shortly.",
	},
	{
		keywords: []string{"hours", "open", "closing", "when are you"},
		reply:    "Our team typically responds during business hours. Leave your question here and we'll get back to you as soon as possible.",
	},
	{
		keywords: []string{"human", "agent", "person", "representative", "speak to someone"},
		reply:    "I'll flag this conversation for a human agent. Someone from the team will join shortly.",
	},
	{
		keywords: []string{"bye", "goodbye", "see you"},
		reply:    "Goodbye! Feel free to reach out any time.",
	},
}

const heuristicDefaultReply = "Thanks for your message. I'm having trouble reaching our assistant right now, " +
	"but your question has been recorded and someone will get back to you soon."

func (p *HeuristicProvider) Complete(ctx context.Context, req Request) (Result, error) {
	query := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			query = req.Messages[i].Content
			break
		}
	}
	return Result{
		Content:  replyFor(query),
		Provider: p.Name(),
		Model:    p.Name(),
	}, nil
}

func (p *HeuristicProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkCh := make(chan StreamChunk, 2)
	errCh := make(chan error, 1)
	result, _ := p.Complete(ctx, req)
	chunkCh <- StreamChunk{Content: result.Content}
	chunkCh <- StreamChunk{FinishReason: "stop"}
	close(chunkCh)
	close(errCh)
	return chunkCh, errCh
}

func replyFor(query string) string {
	// " " padding lets short keywords like "hi " match at the end of input.
	lowered := " " + strings.ToLower(strings.TrimSpace(query)) + " "
	for _, rule := range heuristicRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.reply
			}
		}
	}
	return heuristicDefaultReply
}
