package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// gpt2Pattern is the default byte-level pre-tokenizer split.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

// llamaPattern replaces Llama3-style splits that rely on lookahead, which RE2 lacks.
const llamaPattern = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`

var (
	knownStartTokens = []string{"<s>", "<|begin_of_text|>", "<bos>", "<|startoftext|>", "<|im_start|>", "<|endoftext|>"}
	knownEndTokens   = []string{"</s>", "<|end_of_text|>", "<eos>", "<|eot_id|>", "<|im_end|>", "<|endoftext|>"}
)

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Type          string                       `json:"type"`
		SpecialTokens map[string]hfSpecialTokenIDs `json:"special_tokens"`
		Processors    []struct {
			Type          string                       `json:"type"`
			SpecialTokens map[string]hfSpecialTokenIDs `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfPreTokenizer struct {
	Type    string `json:"type"`
	Pattern struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
	Pretokenizers []hfPreTokenizer `json:"pretokenizers"`
}

type hfSpecialTokenIDs struct {
	IDs []int `json:"ids"`
}

// hfTokenizerConfig is the subset of tokenizer_config.json used to pick
// start and end tokens. Tokens are either plain strings or AddedToken objects.
type hfTokenizerConfig struct {
	BOS json.RawMessage `json:"bos_token"`
	EOS json.RawMessage `json:"eos_token"`
}

// bpeVocab is a byte-level BPE model in the tokenizer.json layout.
type bpeVocab struct {
	encoder      map[string]int
	decoder      []string
	ranks        map[[2]string]int
	byteEnc      [256]string
	byteDec      map[rune]byte
	pattern      *regexp.Regexp
	unkID        int
	ignoreMerges bool
	specials     []string
	specialIDs   map[int]bool

	mu    sync.Mutex
	cache map[string][]string
}

func loadHF(path string, data []byte) (*Codec, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	v, err := newBPEVocab(&tj)
	if err != nil {
		return nil, err
	}

	var cfg hfTokenizerConfig
	if raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), "tokenizer_config.json")); err == nil {
		_ = json.Unmarshal(raw, &cfg)
	}

	startID := v.resolveSpecial(addedTokenContent(cfg.BOS), templateStartID(&tj), knownStartTokens)
	endID := v.resolveSpecial(addedTokenContent(cfg.EOS), -1, knownEndTokens)
	return newCodec(v, FormatHFBPE, startID, endID)
}

func newBPEVocab(tj *hfTokenizerJSON) (*bpeVocab, error) {
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer.json has an empty vocabulary")
	}

	maxID := -1
	for _, id := range tj.Model.Vocab {
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		maxID = max(maxID, at.ID)
	}

	v := &bpeVocab{
		encoder:      make(map[string]int, maxID+1),
		decoder:      make([]string, maxID+1),
		ranks:        make(map[[2]string]int, len(tj.Model.Merges)),
		byteDec:      make(map[rune]byte, 256),
		pattern:      regexp.MustCompile(pretokenizerPattern(tj.PreTokenizer)),
		unkID:        -1,
		ignoreMerges: tj.Model.IgnoreMerges,
		specialIDs:   make(map[int]bool),
		cache:        make(map[string][]string),
	}
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d for %q", id, tok)
		}
		v.encoder[tok] = id
		v.decoder[id] = tok
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			continue
		}
		v.encoder[at.Content] = at.ID
		v.decoder[at.ID] = at.Content
		if at.Special {
			v.specialIDs[at.ID] = true
			v.specials = append(v.specials, at.Content)
		}
	}
	// Longest match first when splitting specials out of input text.
	sort.SliceStable(v.specials, func(i, j int) bool { return len(v.specials[i]) > len(v.specials[j]) })

	for _, raw := range tj.Model.Merges {
		a, b, ok := parseMerge(raw)
		if !ok {
			continue
		}
		key := [2]string{a, b}
		if _, dup := v.ranks[key]; !dup {
			v.ranks[key] = len(v.ranks)
		}
	}

	for i, r := range byteRunes() {
		v.byteEnc[i] = string(r)
		v.byteDec[r] = byte(i)
	}
	if tj.Model.UnkToken != "" {
		if id, ok := v.encoder[tj.Model.UnkToken]; ok {
			v.unkID = id
		}
	}
	return v, nil
}

// parseMerge accepts both the legacy "a b" string form and the [a, b] pair form.
func parseMerge(raw any) (string, string, bool) {
	switch m := raw.(type) {
	case string:
		line := strings.TrimSpace(m)
		if line == "" || strings.HasPrefix(line, "#") {
			return "", "", false
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || strings.Contains(b, " ") {
			return "", "", false
		}
		return a, b, true
	case []any:
		if len(m) != 2 {
			return "", "", false
		}
		a, aok := m[0].(string)
		b, bok := m[1].(string)
		return a, b, aok && bok
	default:
		return "", "", false
	}
}

func pretokenizerPattern(pre hfPreTokenizer) string {
	pat := gpt2Pattern
	if pre.Type == "Split" && pre.Pattern.Regex != "" {
		pat = pre.Pattern.Regex
	}
	for _, p := range pre.Pretokenizers {
		if p.Type == "Split" && p.Pattern.Regex != "" {
			pat = p.Pattern.Regex
			break
		}
	}
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		return llamaPattern
	}
	if _, err := regexp.Compile(pat); err != nil {
		return gpt2Pattern
	}
	return pat
}

func templateStartID(tj *hfTokenizerJSON) int {
	pick := func(m map[string]hfSpecialTokenIDs) int {
		for _, name := range []string{"bos", "<s>", "<|begin_of_text|>"} {
			if spec, ok := m[name]; ok && len(spec.IDs) > 0 {
				return spec.IDs[0]
			}
		}
		return -1
	}
	if tj.PostProcessor.Type == "TemplateProcessing" {
		if id := pick(tj.PostProcessor.SpecialTokens); id >= 0 {
			return id
		}
	}
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		if id := pick(proc.SpecialTokens); id >= 0 {
			return id
		}
	}
	return -1
}

func addedTokenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Content
	}
	return ""
}

// resolveSpecial picks the configured token, then a template id, then the
// first well-known token present in the vocabulary.
func (v *bpeVocab) resolveSpecial(configured string, templateID int, known []string) int {
	if configured != "" {
		if id, ok := v.encoder[configured]; ok {
			return id
		}
	}
	if templateID >= 0 && templateID < len(v.decoder) {
		return templateID
	}
	for _, tok := range known {
		if id, ok := v.encoder[tok]; ok {
			return id
		}
	}
	return -1
}

func (v *bpeVocab) size() int { return len(v.decoder) }

func (v *bpeVocab) encode(text string) []int {
	var ids []int
	for _, part := range splitSpecials(text, v.specials) {
		if part.special {
			ids = append(ids, v.encoder[part.text])
			continue
		}
		for _, word := range v.pattern.FindAllString(part.text, -1) {
			for _, piece := range v.bpe(v.byteEncode(word)) {
				if id, ok := v.encoder[piece]; ok {
					ids = append(ids, id)
				} else if v.unkID >= 0 {
					ids = append(ids, v.unkID)
				}
			}
		}
	}
	return ids
}

func (v *bpeVocab) decode(id int) (string, bool) {
	if id < 0 || id >= len(v.decoder) {
		return "", false
	}
	tok := v.decoder[id]
	if tok == "" {
		return "", false
	}
	if v.specialIDs[id] {
		return tok, true
	}
	b := make([]byte, 0, len(tok))
	for _, r := range tok {
		if by, ok := v.byteDec[r]; ok {
			b = append(b, by)
		} else {
			b = append(b, string(r)...)
		}
	}
	return string(b), true
}

func (v *bpeVocab) decodeAll(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		s, ok := v.decode(id)
		if !ok {
			s = Placeholder
		}
		sb.WriteString(s)
	}
	return sb.String()
}

func (v *bpeVocab) byteEncode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteString(v.byteEnc[s[i]])
	}
	return sb.String()
}

// bpe merges the lowest-ranked adjacent pair until no ranked pair remains.
func (v *bpeVocab) bpe(token string) []string {
	v.mu.Lock()
	cached, ok := v.cache[token]
	v.mu.Unlock()
	if ok {
		return cached
	}

	var word []string
	if _, whole := v.encoder[token]; whole && v.ignoreMerges {
		word = []string{token}
	} else {
		word = mergeRanked(splitRunes(token), v.ranks)
	}

	v.mu.Lock()
	v.cache[token] = word
	v.mu.Unlock()
	return word
}
