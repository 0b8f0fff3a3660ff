package tokenizer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// SentencePiece ModelProto field numbers.
const (
	spFieldPieces     protowire.Number = 1
	spFieldTrainer    protowire.Number = 2
	spFieldNormalizer protowire.Number = 3

	spPieceText  protowire.Number = 1
	spPieceScore protowire.Number = 2
	spPieceType  protowire.Number = 3

	spTrainerModelType protowire.Number = 3
	spTrainerUnkID     protowire.Number = 40
	spTrainerBOSID     protowire.Number = 41
	spTrainerEOSID     protowire.Number = 42

	spNormAddDummyPrefix    protowire.Number = 3
	spNormRemoveExtraSpaces protowire.Number = 4
	spNormEscapeWhitespaces protowire.Number = 5
)

type pieceType int

const (
	pieceNormal      pieceType = 1
	pieceUnknown     pieceType = 2
	pieceControl     pieceType = 3
	pieceUserDefined pieceType = 4
	pieceUnused      pieceType = 5
	pieceByte        pieceType = 6
)

const (
	spModelUnigram = 1
	spModelBPE     = 2
)

const (
	spaceMarker = "▁"
	unkSurface  = " ⁇ "
)

type spPiece struct {
	text  string
	score float32
	kind  pieceType
	b     byte
}

// spVocab is a SentencePiece model: unigram (Viterbi) or BPE (score merges).
type spVocab struct {
	pieces    []spPiece
	index     map[string]int
	maxRunes  int
	modelType int
	unkID     int
	byteIDs   [256]int
	hasBytes  bool
	minScore  float32

	addDummyPrefix    bool
	removeExtraSpaces bool
	escapeWhitespaces bool
}

func loadSentencePiece(data []byte) (*Codec, error) {
	v := &spVocab{
		index:             make(map[string]int),
		modelType:         spModelUnigram,
		addDummyPrefix:    true,
		removeExtraSpaces: true,
		escapeWhitespaces: true,
	}
	// Trainer defaults: unk=0, bos=1, eos=2.
	unkID, bosID, eosID := 0, 1, 2

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, x uint64) error {
		switch {
		case num == spFieldPieces && typ == protowire.BytesType:
			p, err := parsePiece(val)
			if err != nil {
				return fmt.Errorf("piece %d: %w", len(v.pieces), err)
			}
			v.pieces = append(v.pieces, p)
		case num == spFieldTrainer && typ == protowire.BytesType:
			return walkFields(val, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
				if typ != protowire.VarintType {
					return nil
				}
				switch num {
				case spTrainerModelType:
					v.modelType = int(x)
				case spTrainerUnkID:
					unkID = int(int32(x))
				case spTrainerBOSID:
					bosID = int(int32(x))
				case spTrainerEOSID:
					eosID = int(int32(x))
				}
				return nil
			})
		case num == spFieldNormalizer && typ == protowire.BytesType:
			return walkFields(val, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
				if typ != protowire.VarintType {
					return nil
				}
				switch num {
				case spNormAddDummyPrefix:
					v.addDummyPrefix = x != 0
				case spNormRemoveExtraSpaces:
					v.removeExtraSpaces = x != 0
				case spNormEscapeWhitespaces:
					v.escapeWhitespaces = x != 0
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse sentencepiece model: %w", err)
	}
	if len(v.pieces) == 0 {
		return nil, errors.New("sentencepiece model has no pieces")
	}
	if v.modelType != spModelUnigram && v.modelType != spModelBPE {
		return nil, fmt.Errorf("unsupported sentencepiece model type %d", v.modelType)
	}

	for i := range v.byteIDs {
		v.byteIDs[i] = -1
	}
	v.minScore = float32(math.MaxFloat32)
	for id, p := range v.pieces {
		switch p.kind {
		case pieceNormal, pieceUserDefined:
			if _, dup := v.index[p.text]; !dup {
				v.index[p.text] = id
			}
			v.maxRunes = max(v.maxRunes, len([]rune(p.text)))
			v.minScore = min(v.minScore, p.score)
		case pieceByte:
			v.byteIDs[p.b] = id
			v.hasBytes = true
		}
	}
	if v.minScore == float32(math.MaxFloat32) {
		v.minScore = 0
	}
	v.unkID = unkID
	return newCodec(v, FormatSentencePiece, bosID, eosID)
}

func parsePiece(b []byte) (spPiece, error) {
	p := spPiece{kind: pieceNormal}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte, x uint64) error {
		switch {
		case num == spPieceText && typ == protowire.BytesType:
			p.text = string(val)
		case num == spPieceScore && typ == protowire.Fixed32Type:
			p.score = math.Float32frombits(uint32(x))
		case num == spPieceType && typ == protowire.VarintType:
			p.kind = pieceType(x)
		}
		return nil
	})
	if err != nil {
		return p, err
	}
	if p.kind == pieceByte {
		// Byte pieces are spelled <0xAB>.
		hex := strings.TrimSuffix(strings.TrimPrefix(p.text, "<0x"), ">")
		n, err := strconv.ParseUint(hex, 16, 8)
		if err != nil {
			return p, fmt.Errorf("invalid byte piece %q", p.text)
		}
		p.b = byte(n)
	}
	return p, nil
}

// walkFields visits every top-level field of a protobuf message. val holds the
// payload of length-delimited fields; x holds varint and fixed values.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, val []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var (
			val []byte
			x   uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			x = uint64(v)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			val, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, typ, val, x); err != nil {
			return err
		}
	}
	return nil
}

func (v *spVocab) size() int { return len(v.pieces) }

func (v *spVocab) normalize(text string) string {
	if v.removeExtraSpaces {
		text = strings.Join(strings.Fields(text), " ")
	}
	if text == "" {
		return ""
	}
	if v.addDummyPrefix {
		text = " " + text
	}
	if v.escapeWhitespaces {
		text = strings.ReplaceAll(text, " ", spaceMarker)
	}
	return text
}

func (v *spVocab) encode(text string) []int {
	norm := v.normalize(text)
	if norm == "" {
		return nil
	}
	var segs []string
	if v.modelType == spModelBPE {
		segs = v.mergeByScore(splitRunes(norm))
	} else {
		segs = v.viterbi(norm)
	}
	ids := make([]int, 0, len(segs))
	for _, s := range segs {
		if id, ok := v.index[s]; ok {
			ids = append(ids, id)
			continue
		}
		ids = v.appendFallback(ids, s)
	}
	return ids
}

// appendFallback spells an out-of-vocabulary segment as byte pieces, or as the
// unknown piece when the model has no byte pieces.
func (v *spVocab) appendFallback(ids []int, s string) []int {
	if !v.hasBytes {
		return append(ids, v.unkID)
	}
	for i := 0; i < len(s); i++ {
		if id := v.byteIDs[s[i]]; id >= 0 {
			ids = append(ids, id)
		} else {
			ids = append(ids, v.unkID)
		}
	}
	return ids
}

// viterbi finds the segmentation with the highest total piece score. A rune
// no piece covers becomes a single unknown segment with a penalised score.
func (v *spVocab) viterbi(s string) []string {
	offs := make([]int, 0, len(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	offs = append(offs, len(s))
	n := len(offs) - 1

	best := make([]float64, n+1)
	from := make([]int, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(-1)
	}
	unkScore := float64(v.minScore) - 10

	for i := 0; i < n; i++ {
		if math.IsInf(best[i], -1) {
			continue
		}
		covered := false
		for l := 1; l <= v.maxRunes && i+l <= n; l++ {
			id, ok := v.index[s[offs[i]:offs[i+l]]]
			if !ok {
				continue
			}
			score := float64(v.pieces[id].score)
			if v.pieces[id].kind == pieceUserDefined {
				score = 0
			}
			if l == 1 {
				covered = true
			}
			if cand := best[i] + score; cand > best[i+l] {
				best[i+l] = cand
				from[i+l] = i
			}
		}
		if !covered {
			if cand := best[i] + unkScore; cand > best[i+1] {
				best[i+1] = cand
				from[i+1] = i
			}
		}
	}

	var segs []string
	for end := n; end > 0; end = from[end] {
		segs = append(segs, s[offs[from[end]]:offs[end]])
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// mergeByScore repeatedly joins the adjacent pair whose concatenation is the
// highest scoring piece in the vocabulary.
func (v *spVocab) mergeByScore(symbols []string) []string {
	for len(symbols) > 1 {
		at := -1
		var best float32
		for i := 0; i+1 < len(symbols); i++ {
			id, ok := v.index[symbols[i]+symbols[i+1]]
			if !ok {
				continue
			}
			if sc := v.pieces[id].score; at < 0 || sc > best {
				best, at = sc, i
			}
		}
		if at < 0 {
			break
		}
		symbols[at] += symbols[at+1]
		symbols = append(symbols[:at+1], symbols[at+2:]...)
	}
	return symbols
}

func (v *spVocab) decode(id int) (string, bool) {
	if id < 0 || id >= len(v.pieces) {
		return "", false
	}
	p := v.pieces[id]
	switch p.kind {
	case pieceControl, pieceUnused:
		return "", true
	case pieceUnknown:
		return unkSurface, true
	case pieceByte:
		return string([]byte{p.b}), true
	default:
		return strings.ReplaceAll(p.text, spaceMarker, " "), true
	}
}

// decodeAll joins pieces and drops the space the dummy prefix introduced.
func (v *spVocab) decodeAll(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		s, ok := v.decode(id)
		if !ok {
			s = Placeholder
		}
		sb.WriteString(s)
	}
	out := sb.String()
	if v.addDummyPrefix {
		out = strings.TrimPrefix(out, " ")
	}
	return out
}
