package chat

import (
	"context"
	"log/slog"
	"strings"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

const sentimentPrompt = "Classify the sentiment of the user message as exactly one word: " +
	"positive, neutral, or negative. Reply with only that word."

// SentimentClassifier labels user messages. It asks the provider chain for a
// one-word classification and falls back to keyword matching, so it always
// returns a label.
type SentimentClassifier struct {
	router *Router
	logger *slog.Logger
}

func NewSentimentClassifier(log *slog.Logger, router *Router) *SentimentClassifier {
	if log == nil {
		log = slog.Default()
	}
	return &SentimentClassifier{
		router: router,
		logger: log.With(slog.String("service", "sentiment")),
	}
}

// Classify returns positive, neutral, or negative for a message.
func (c *SentimentClassifier) Classify(ctx context.Context, text string) string {
	if c.router != nil {
		result, _, err := c.router.Generate(ctx, Request{
			Messages: []Message{
				{Role: "system", Content: sentimentPrompt},
				{Role: "user", Content: text},
			},
		})
		if err == nil {
			if label, ok := parseSentiment(result.Content); ok {
				return label
			}
			c.logger.Debug("unusable sentiment reply", slog.String("content", result.Content))
		}
	}
	return keywordSentiment(text)
}

func parseSentiment(reply string) (string, bool) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".!\"'"))
	switch cleaned {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return cleaned, true
	}
	return "", false
}

var negativeWords = []string{"angry", "terrible", "awful", "refund", "broken", "worst", "complaint", "cancel", "disappointed", "useless"}

var positiveWords = []string{"great", "thanks", "thank you", "love", "awesome", "perfect", "excellent", "happy"}

func keywordSentiment(text string) string {
	lowered := strings.ToLower(text)
	for _, word := range negativeWords {
		if strings.Contains(lowered, word) {
			return SentimentNegative
		}
	}
	for _, word := range positiveWords {
		if strings.Contains(lowered, word) {
			return SentimentPositive
		}
	}
	return SentimentNeutral
}
