package engine

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

const (
	casualFallback     = "Hey! I'm here to help. What would you like to know?"
	searchUnavailable  = "I'm sorry, I cannot browse the web right now because the search tool is unavailable. I can only answer database questions."
	searchFailed       = "I'd need to search the web for that, but I'm primarily designed for database queries."
	searchExcerptChars = 200
)

// reply is what a conversational responder produced
type reply struct {
	text  string
	usage llmtypes.TokenUsage
	err   error
}

func (e *Engine) complete(ctx context.Context, template string, pctx *prompts.PromptContext, user string) (llmtypes.Completion, error) {
	system, err := e.renderer.RenderPrompt(template, pctx)
	if err != nil {
		return llmtypes.Completion{}, err
	}
	return e.completer.Complete(ctx, llmtypes.Prompt{System: system, User: user})
}

func (e *Engine) casualReply(ctx context.Context, question string) reply {
	completion, err := e.complete(ctx, prompts.CasualTemplate, prompts.NewPromptContext(), question)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("casual reply failed, using canned reply")
		return reply{text: casualFallback, err: err}
	}
	return reply{text: strings.TrimSpace(completion.Text), usage: completion.Usage}
}

func (e *Engine) sarcasticReply(ctx context.Context, question string) reply {
	pctx := prompts.NewPromptContext()
	pctx.DBDescription = e.catalog.Description()
	pctx.Topics = e.catalog.Topics()

	completion, err := e.complete(ctx, prompts.SarcasticTemplate, pctx, question)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("sarcastic reply failed, using canned reply")
		return reply{text: "Nice try! I only know about " + e.catalog.Topics() + ".", err: err}
	}
	return reply{text: strings.TrimSpace(completion.Text), usage: completion.Usage}
}

func (e *Engine) generalReply(ctx context.Context, question string) reply {
	if e.searcher == nil {
		return reply{text: searchUnavailable}
	}

	log := logger.G(ctx)
	results, err := e.searcher.Search(ctx, question)
	if err != nil {
		log.WithError(err).Warn("web search failed")
		return reply{text: searchFailed, err: err}
	}

	pctx := prompts.NewPromptContext()
	pctx.Question = question
	pctx.SearchResults = results
	user, err := e.renderer.RenderPrompt(prompts.SearchQuestionTemplate, pctx)
	if err == nil {
		var completion llmtypes.Completion
		completion, err = e.complete(ctx, prompts.SearchSummaryTemplate, pctx, user)
		if err == nil {
			return reply{text: strings.TrimSpace(completion.Text), usage: completion.Usage}
		}
	}

	log.WithError(errors.Wrap(err, "search summary failed")).Warn("returning raw search excerpt")
	return reply{text: excerpt(results)}
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= searchExcerptChars {
		return text
	}
	return string(runes[:searchExcerptChars]) + "..."
}
