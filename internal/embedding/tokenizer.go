package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// CLIP text model token layout.
const (
	ClipContextLength = 77
	clipStartToken    = 49406
	clipEndToken      = 49407
	clipVocabSize     = 49408
	clipFirstWordID   = 256 // ids below are byte tokens
)

// Tokenizer produces fixed-length token ids and an attention mask for a text model.
type Tokenizer interface {
	Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64)
}

// CLIPTokenizer is a word-level CLIP tokenizer. Words found in the vocabulary (as "word</w>")
// use their CLIP id; other words get a stable hashed id in the word range. Sequences are
// framed with the start and end tokens and padded with the end token.
type CLIPTokenizer struct {
	vocab map[string]int64
}

// NewCLIPTokenizer loads a CLIP vocab.json (token -> id). An empty path gives a tokenizer
// that hashes every word.
func NewCLIPTokenizer(vocabPath string) (*CLIPTokenizer, error) {
	t := &CLIPTokenizer{vocab: map[string]int64{}}
	if vocabPath == "" {
		return t, nil
	}
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if err := json.Unmarshal(data, &t.vocab); err != nil {
		return nil, fmt.Errorf("parse vocab %s: %w", vocabPath, err)
	}
	return t, nil
}

// Tokenize lowercases and splits text, then returns contextLength ids and mask values.
// Text longer than the context is truncated with the end token kept in the last position.
func (t *CLIPTokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	if contextLength < 2 {
		contextLength = ClipContextLength
	}
	inputIDs = make([]int64, contextLength)
	attentionMask = make([]int64, contextLength)
	for i := range inputIDs {
		inputIDs[i] = clipEndToken
	}

	inputIDs[0] = clipStartToken
	attentionMask[0] = 1
	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= contextLength-1 {
			break
		}
		inputIDs[pos] = t.tokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = clipEndToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask
}

func (t *CLIPTokenizer) tokenID(word string) int64 {
	if id, ok := t.vocab[word+"</w>"]; ok {
		return id
	}
	if id, ok := t.vocab[word]; ok {
		return id
	}
	span := uint64(clipStartToken - clipFirstWordID)
	return int64(clipFirstWordID + xxhash.Sum64String(word)%span)
}

// SplitWords lowercases text and splits it into letter runs, digit runs, and single
// punctuation marks, dropping whitespace.
func SplitWords(text string) []string {
	var words []string
	var word []rune
	kind := 0 // 1 letter, 2 digit
	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = word[:0]
		}
		kind = 0
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || r == '\'':
			if kind != 1 {
				flush()
			}
			kind = 1
			word = append(word, r)
		case unicode.IsDigit(r):
			if kind != 2 {
				flush()
			}
			kind = 2
			word = append(word, r)
		default:
			flush()
			words = append(words, string(r))
		}
	}
	flush()
	return words
}
