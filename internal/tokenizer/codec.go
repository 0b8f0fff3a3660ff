package tokenizer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Placeholder is returned when decoding an id the vocabulary does not contain.
const Placeholder = "\uFFFD"

// Format identifies the on-disk tokenizer model a Codec was loaded from.
type Format string

const (
	FormatHFBPE         Format = "hf-bpe"
	FormatSentencePiece Format = "sentencepiece"
)

// vocabulary is the narrow surface a subword model offers the codec.
type vocabulary interface {
	encode(text string) []int
	decode(id int) (string, bool)
	decodeAll(ids []int) string
	size() int
}

// Codec converts between text and token ids. A Codec never changes after Load
// and is safe for concurrent use.
type Codec struct {
	vocab   vocabulary
	format  Format
	startID int
	endID   int
}

// Load reads a tokenizer model. A JSON document is treated as a HuggingFace
// tokenizer.json; anything else must be a SentencePiece model proto.
func Load(path string) (*Codec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("tokenizer file is empty")
	}
	if looksLikeJSON(data) {
		return loadHF(path, data)
	}
	return loadSentencePiece(data)
}

// Encode returns the token ids for text, always starting with StartID.
// A leading start id produced by the model itself is kept, so callers can
// strip exactly one id unconditionally.
func (c *Codec) Encode(text string) []int {
	ids := c.vocab.encode(text)
	out := make([]int, 0, len(ids)+1)
	out = append(out, c.startID)
	return append(out, ids...)
}

// Decode returns the text of a single token, or Placeholder for unknown ids.
func (c *Codec) Decode(id int) string {
	s, ok := c.vocab.decode(id)
	if !ok {
		return Placeholder
	}
	return s
}

// DecodeSequence decodes a run of ids as one string.
func (c *Codec) DecodeSequence(ids []int) string {
	return c.vocab.decodeAll(ids)
}

func (c *Codec) StartID() int   { return c.startID }
func (c *Codec) EndID() int     { return c.endID }
func (c *Codec) VocabSize() int { return c.vocab.size() }
func (c *Codec) Format() Format { return c.format }

func newCodec(v vocabulary, f Format, startID, endID int) (*Codec, error) {
	if startID < 0 || startID >= v.size() {
		return nil, fmt.Errorf("tokenizer has no start token (id %d)", startID)
	}
	if endID < 0 || endID >= v.size() {
		return nil, fmt.Errorf("tokenizer has no end token (id %d)", endID)
	}
	return &Codec{vocab: v, format: f, startID: startID, endID: endID}, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
