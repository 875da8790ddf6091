package moderation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultPromptTokens      = 150
	promptSafetyFactor       = 1.15
	structuralOverheadTokens = 500
	contentSafetyFactor      = 0.7

	MinContentTokens = 12000
	MaxContentTokens = 180000
)

// sentenceBoundary matches sentence-ending punctuation and the whitespace after it.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// Tokenizer counts tokens the way the provider does.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the BPE encoding for model, falling back to
// o200k_base and then cl100k_base for models tiktoken does not know.
func NewTiktokenTokenizer(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &tiktokenTokenizer{enc: enc}, nil
	}
	for _, name := range []string{"o200k_base", "cl100k_base"} {
		fallback, encErr := tiktoken.GetEncoding(name)
		if encErr == nil {
			return &tiktokenTokenizer{enc: fallback}, nil
		}
		err = encErr
	}
	return nil, fmt.Errorf("load tiktoken encoding for %q: %w", model, err)
}

func (t *tiktokenTokenizer) CountTokens(text string) (int, error) {
	return len(t.enc.Encode(text, nil, nil)), nil
}

// TokenBudgeter counts tokens and splits oversized text into token-bounded chunks.
type TokenBudgeter struct {
	tokenizer Tokenizer
}

// NewTokenBudgeter returns a budgeter. A nil tokenizer means the
// four-characters-per-token estimate is always used.
func NewTokenBudgeter(tokenizer Tokenizer) *TokenBudgeter {
	return &TokenBudgeter{tokenizer: tokenizer}
}

// CountTokens never fails: tokenizer errors and panics fall back to len/4.
func (b *TokenBudgeter) CountTokens(text string) (n int) {
	if b == nil || b.tokenizer == nil {
		return len(text) / 4
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[TokenBudget] Tokenizer panic, using estimate: %v", r)
			n = len(text) / 4
		}
	}()
	count, err := b.tokenizer.CountTokens(text)
	if err != nil {
		logger.Warnf("[TokenBudget] Token counting error, using estimate: %v", err)
		return len(text) / 4
	}
	return count
}

// MaxContentTokens returns how many content tokens fit in one request given the
// model's context window, the output reservation and the custom prompt (empty
// for the default analysis).
func (b *TokenBudgeter) MaxContentTokens(contextWindow, outputReserve int, prompt string) int {
	promptTokens := defaultPromptTokens
	if prompt != "" {
		promptTokens = b.CountTokens(customRuleSystemPrompt + customRuleUserPrompt(prompt, ""))
	}

	reserved := int(float64(promptTokens)*promptSafetyFactor) + outputReserve + structuralOverheadTokens
	available := int(float64(contextWindow-reserved) * contentSafetyFactor)

	if available < MinContentTokens {
		return MinContentTokens
	}
	if available > MaxContentTokens {
		return MaxContentTokens
	}
	return available
}

// SplitIntoChunks splits text into chunks of at most maxTokens tokens, breaking
// at paragraphs first, then sentences, then words. Chunk order follows the text.
// A single word larger than maxTokens becomes its own chunk.
func (b *TokenBudgeter) SplitIntoChunks(text string, maxTokens int) []string {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if b.CountTokens(text) <= maxTokens {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		if b.CountTokens(para) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = ""
			chunks = append(chunks, b.splitBySentences(para, maxTokens)...)
			continue
		}
		candidate := joinNonEmpty(current, para, "\n\n")
		if current != "" && b.CountTokens(candidate) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = para
			continue
		}
		current = candidate
	}
	return appendChunk(chunks, current)
}

func (b *TokenBudgeter) splitBySentences(paragraph string, maxTokens int) []string {
	var chunks []string
	current := ""
	for _, sentence := range splitSentences(paragraph) {
		if b.CountTokens(sentence) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = ""
			chunks = append(chunks, b.splitByWords(sentence, maxTokens)...)
			continue
		}
		candidate := joinNonEmpty(current, sentence, " ")
		if current != "" && b.CountTokens(candidate) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = sentence
			continue
		}
		current = candidate
	}
	return appendChunk(chunks, current)
}

func (b *TokenBudgeter) splitByWords(sentence string, maxTokens int) []string {
	var chunks []string
	current := ""
	for _, word := range strings.Fields(sentence) {
		if b.CountTokens(word) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = ""
			chunks = append(chunks, word)
			continue
		}
		candidate := joinNonEmpty(current, word, " ")
		if current != "" && b.CountTokens(candidate) > maxTokens {
			chunks = appendChunk(chunks, current)
			current = word
			continue
		}
		current = candidate
	}
	return appendChunk(chunks, current)
}

// splitSentences splits after ., ! or ? followed by whitespace, keeping the
// punctuation with its sentence.
func splitSentences(paragraph string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(paragraph, -1) {
		if s := paragraph[last : loc[0]+1]; strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if s := paragraph[last:]; strings.TrimSpace(s) != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func joinNonEmpty(current, next, sep string) string {
	if current == "" {
		return next
	}
	return current + sep + next
}

func appendChunk(chunks []string, chunk string) []string {
	if chunk = strings.TrimSpace(chunk); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
