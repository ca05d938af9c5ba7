package chunker

import (
	"strings"
	"unicode/utf8"

	prose "github.com/jdkato/prose/v2"
)

// Chunk is one bounded-size unit of text, ordered within its source.
type Chunk struct {
	Text  string
	Index int
}

// Chunker splits normalized text on paragraph boundaries first, falls
// back to sentence boundaries for oversized paragraphs, and hard-splits
// only when a single sentence exceeds the limit. Pieces are greedily
// packed so chunks stay as full as possible without crossing the limit.
type Chunker struct {
	maxChunkSize int
}

func New(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 1000
	}
	return &Chunker{maxChunkSize: maxChunkSize}
}

func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.maxChunkSize {
			pieces = append(pieces, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			if utf8.RuneCountInString(sentence) <= c.maxChunkSize {
				pieces = append(pieces, sentence)
				continue
			}
			pieces = append(pieces, hardSplit(sentence, c.maxChunkSize)...)
		}
	}

	return c.pack(pieces)
}

// pack greedily appends pieces to the current chunk while the running
// length stays within the limit.
func (c *Chunker) pack(pieces []string) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:  current.String(),
			Index: len(chunks),
		})
		current.Reset()
		currentLen = 0
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)

		// +1 for the joining space
		if currentLen > 0 && currentLen+1+pieceLen > c.maxChunkSize {
			flush()
		}

		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(piece)
		currentLen += pieceLen
	}
	flush()

	return chunks
}

// splitSentences uses prose's sentence segmenter, falling back to the
// paragraph itself when segmentation fails.
func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		return []string{text}
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func hardSplit(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
