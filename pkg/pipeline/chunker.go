package pipeline

import "strings"

// DefaultMaxChunkChars is §4.6's max_chunk_chars default.
const DefaultMaxChunkChars = 180

// sentenceBreaks are the boundary runes the chunker prefers to split on.
const sentenceBreaks = ".!?\n"

// Chunker buffers streamed LLM text and releases complete TTS chunks at
// sentence boundaries, or at the nearest whitespace once maxChars is
// exceeded (§4.6). It holds no provider state — just a string buffer —
// so the pipeline can keep one per in-flight response.
type Chunker struct {
	maxChars int
	buf      strings.Builder
}

// NewChunker builds a Chunker; maxChars <= 0 falls back to
// DefaultMaxChunkChars.
func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return &Chunker{maxChars: maxChars}
}

// Push appends a token/character delta and returns any chunks that
// became ready to synthesize, in order.
func (c *Chunker) Push(delta string) []string {
	c.buf.WriteString(delta)
	var chunks []string
	for {
		chunk, ok := c.takeChunk()
		if !ok {
			break
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns whatever remains buffered (the LLM stream ended without
// a trailing sentence break) and resets the buffer.
func (c *Chunker) Flush() string {
	s := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return s
}

func (c *Chunker) takeChunk() (string, bool) {
	s := c.buf.String()
	if s == "" {
		return "", false
	}

	if i := strings.IndexAny(s, sentenceBreaks); i >= 0 {
		chunk := strings.TrimSpace(s[:i+1])
		c.reset(s[i+1:])
		if chunk == "" {
			return c.takeChunk()
		}
		return chunk, true
	}

	if len(s) <= c.maxChars {
		return "", false
	}

	cut := strings.LastIndex(s[:c.maxChars], " ")
	if cut <= 0 {
		cut = c.maxChars
	}
	chunk := strings.TrimSpace(s[:cut])
	c.reset(s[cut:])
	if chunk == "" {
		return c.takeChunk()
	}
	return chunk, true
}

func (c *Chunker) reset(rest string) {
	c.buf.Reset()
	c.buf.WriteString(rest)
}
