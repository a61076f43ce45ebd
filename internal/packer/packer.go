// Package packer builds the chat messages sent to the completion backend:
// the system prompt, the user query and as many numbered context chunks as
// fit in the model's context window.
package packer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dshills/ragsync/internal/citation"
	"github.com/dshills/ragsync/internal/tokenizer"
	"github.com/dshills/ragsync/pkg/types"
)

const (
	// DefaultReserve is kept free on top of the completion budget for
	// template tokens the estimate cannot see
	DefaultReserve = 64

	DefaultMaxContextChars = 16000
	DefaultMinContextChars = 200

	// ContextHeader separates the query from the context block
	ContextHeader = "\n\n[CONTEXT]\n"

	// trimRatio is the share of the context block kept on each trim pass
	trimRatio = 0.8
)

// ErrBudgetExceeded is returned when the system prompt and query alone do not
// fit in the budget
var ErrBudgetExceeded = errors.New("prompt exceeds token budget")

// Config tunes the packer. Zero fields take the defaults.
type Config struct {
	Reserve         int
	MaxContextChars int
	MinContextChars int
}

// Request is one packing job
type Request struct {
	SystemPrompt  string
	Query         string
	Results       []types.SearchResult // Ranked, best first
	MaxContext    int                  // Model context window in tokens
	MaxCompletion int                  // Tokens reserved for the answer
}

// Packed is the outcome of Pack
type Packed struct {
	Messages     []types.Message
	Citations    citation.Map // Exactly the chunks in ContextBlock
	Used         int
	ContextBlock string
	Tokens       int  // Token count of Messages
	Budget       int  // MaxContext - MaxCompletion - reserve
	Estimated    bool // Tokens came from the character heuristic
	Trimmed      bool // The context block was cut to fit
}

// Packer assembles messages within a token budget
type Packer struct {
	counter  tokenizer.Counter
	fallback tokenizer.CharEstimator
	cfg      Config
	logger   *slog.Logger

	fallbackOnce sync.Once
}

// New creates a Packer. A nil counter means the character heuristic is
// always used.
func New(counter tokenizer.Counter, cfg Config, logger *slog.Logger) *Packer {
	if cfg.Reserve <= 0 {
		cfg.Reserve = DefaultReserve
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.MinContextChars <= 0 {
		cfg.MinContextChars = DefaultMinContextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packer{
		counter:  counter,
		fallback: tokenizer.CharEstimator{CharsPerToken: tokenizer.DefaultCharsPerToken},
		cfg:      cfg,
		logger:   logger,
	}
}

// tokenCount counts with the configured counter and falls back to the
// character heuristic when it is unavailable. The second return reports the
// fallback.
func (p *Packer) tokenCount(ctx context.Context, msgs []types.Message) (int, bool) {
	if p.counter == nil {
		p.fallbackOnce.Do(func() {
			p.logger.Warn("no tokenizer configured, estimating tokens from characters",
				slog.Int("chars_per_token", p.fallback.CharsPerToken))
		})
	} else {
		n, err := p.counter.Count(ctx, msgs)
		if err == nil {
			return n, false
		}
		p.fallbackOnce.Do(func() {
			p.logger.Warn("tokenizer unavailable, estimating tokens from characters",
				slog.Int("chars_per_token", p.fallback.CharsPerToken),
				slog.String("error", err.Error()))
		})
	}
	n, _ := p.fallback.Count(ctx, msgs)
	return n, true
}

// RenderChunk formats one numbered context entry
func RenderChunk(n int, r types.SearchResult) string {
	title := r.Metadata.Title
	if title == "" {
		title = "untitled"
	}
	sim := "n/a"
	if r.Similarity != nil {
		sim = fmt.Sprintf("%.3f", *r.Similarity)
	}
	return fmt.Sprintf("[%d] %s | %s | chunk %d | similarity %s\n%s",
		n, title, r.Metadata.FilePath, r.Metadata.ChunkIndex, sim, strings.TrimSpace(r.Text))
}

func buildMessages(system, query, block string) []types.Message {
	user := query
	if block != "" {
		user = query + ContextHeader + block
	}
	return []types.Message{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: user},
	}
}

// Pack includes ranked chunks greedily while the estimate stays within
// MaxContext - MaxCompletion - reserve, then trims the block if the final
// count still overshoots. The returned messages never exceed the budget.
func (p *Packer) Pack(ctx context.Context, req Request) (*Packed, error) {
	budget := req.MaxContext - req.MaxCompletion - p.cfg.Reserve
	out := &Packed{Budget: budget}

	base := buildMessages(req.SystemPrompt, req.Query, "")
	baseTokens, estimated := p.tokenCount(ctx, base)
	out.Estimated = estimated
	if baseTokens > budget {
		return nil, fmt.Errorf("%w: base prompt needs %d tokens, budget is %d", ErrBudgetExceeded, baseTokens, budget)
	}

	var (
		block  strings.Builder
		tokens = baseTokens
		used   int
		// Rune offsets where each included chunk starts and where its header
		// line ends
		starts     []int
		headerEnds []int
		blockRunes int
	)
	for i, r := range req.Results {
		rendered := RenderChunk(i+1, r)
		sep := ""
		if block.Len() > 0 {
			sep = "\n\n"
		}
		if blockRunes+utf8.RuneCountInString(sep+rendered) > p.cfg.MaxContextChars {
			break
		}

		candidate := block.String() + sep + rendered
		n, est := p.tokenCount(ctx, buildMessages(req.SystemPrompt, req.Query, candidate))
		out.Estimated = out.Estimated || est
		if n > budget {
			break
		}
		block.WriteString(sep + rendered)
		start := blockRunes + utf8.RuneCountInString(sep)
		header, _, _ := strings.Cut(rendered, "\n")
		starts = append(starts, start)
		headerEnds = append(headerEnds, start+utf8.RuneCountInString(header))
		blockRunes += utf8.RuneCountInString(sep + rendered)
		tokens = n
		used++
	}

	ctxBlock := block.String()
	msgs := buildMessages(req.SystemPrompt, req.Query, ctxBlock)
	if used > 0 {
		n, est := p.tokenCount(ctx, msgs)
		out.Estimated = out.Estimated || est
		tokens = n
	}

	// The per-chunk checks can disagree with the final count when the
	// counter changed mid-way; cut the tail of the block until it fits.
	for used > 0 && tokens > budget {
		out.Trimmed = true
		runes := []rune(ctxBlock)
		keep := int(float64(len(runes)) * trimRatio)
		if keep < p.cfg.MinContextChars {
			ctxBlock = ""
			used = 0
			msgs = base
			tokens = baseTokens
			break
		}
		used = keptBlocks(headerEnds[:used], keep)
		if used < len(starts) && starts[used] < keep {
			// Drop the fragment of a header that did not survive the cut
			keep = starts[used] - len("\n\n")
		}
		if used == 0 {
			ctxBlock = ""
			msgs = base
			tokens = baseTokens
			break
		}
		ctxBlock = string(runes[:keep])
		msgs = buildMessages(req.SystemPrompt, req.Query, ctxBlock)
		n, est := p.tokenCount(ctx, msgs)
		out.Estimated = out.Estimated || est
		tokens = n
	}

	out.Messages = msgs
	out.ContextBlock = ctxBlock
	out.Used = used
	out.Tokens = tokens
	out.Citations = citation.BuildMap(req.Results[:used])
	return out, nil
}

// keptBlocks returns how many chunks still have their whole header line
// within the first keep runes
func keptBlocks(headerEnds []int, keep int) int {
	n := 0
	for _, end := range headerEnds {
		if end > keep {
			break
		}
		n++
	}
	return n
}

// FlattenPrompt renders messages as a plain prompt for /v1/completions
func FlattenPrompt(messages []types.Message) string {
	return tokenizer.Flatten(messages)
}
