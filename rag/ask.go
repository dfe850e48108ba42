package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlasdata/atlasrag/llm"
)

// msgNoMatches is returned when retrieval finds nothing relevant.
const msgNoMatches = "I could not find relevant catalog entries for this question. Try rephrasing it or reindex the catalog."

const askSystemPrompt = `You answer questions about database catalogs and APIs using only the numbered context passages provided.
Cite passages as [1], [2] and so on. If the passages do not contain the answer, say so plainly.`

// Answer is a retrieval-mode response with its supporting matches.
type Answer struct {
	Text    string
	Matches []Match
}

// Asker answers questions from the vector index alone, without touching
// live databases.
type Asker struct {
	retriever *Retriever
	client    llm.ChatCompleter
	model     string
	logger    *slog.Logger
}

// NewAsker creates a retrieval-mode answerer.
func NewAsker(retriever *Retriever, client llm.ChatCompleter, model string, logger *slog.Logger) *Asker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Asker{
		retriever: retriever,
		client:    client,
		model:     model,
		logger:    logger.With("component", "rag-asker"),
	}
}

// Ask retrieves scoped context and produces a cited answer.
func (a *Asker) Ask(ctx context.Context, question string, scope *Scope) (*Answer, error) {
	matches, err := a.retriever.Search(ctx, question, scope)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &Answer{Text: msgNoMatches}, nil
	}

	var contextBlock strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&contextBlock, "[%d] (%s %d, distance %.3f)\n%s\n\n", i+1, m.ItemType, m.ItemID, m.Distance, m.Content)
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: askSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Context passages:\n\n%sQuestion: %s", contextBlock.String(), question)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("answer call: %w", err)
	}

	a.logger.Debug("retrieval answer",
		"matches", len(matches),
		"tokens", resp.Usage.TotalTokens)
	return &Answer{Text: resp.Content, Matches: matches}, nil
}
