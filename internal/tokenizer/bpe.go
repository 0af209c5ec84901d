package tokenizer

import (
	"io"
	"unicode"
)

// special token ids reserved by the checkpoint format.
const (
	tokenBOS = 128000
	tokenEOS = 128001
)

// Tokenizer is a byte-level BPE encoder/decoder: raw UTF-8 bytes fall back
// to single-byte tokens (offset by 3, reserving 0..2 for specials) when a
// codepoint is not itself a vocabulary entry, and iterative greedy merges
// then collapse runs into longer tokens using the vocabulary's scores.
type Tokenizer struct {
	vocab *Vocab
}

// New wraps a loaded Vocab as a Tokenizer.
func New(vocab *Vocab) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// Load reads a tokenizer file and returns a ready Tokenizer.
func Load(r io.Reader, vocabSize int) (*Tokenizer, error) {
	v, err := LoadVocab(r, vocabSize)
	if err != nil {
		return nil, err
	}
	return New(v), nil
}

// Encode tokenizes text, optionally bracketing it with the BOS/EOS special
// tokens.
func (t *Tokenizer) Encode(text string, bos, eos bool) *TokenQueue {
	q := NewTokenQueue()
	if bos {
		q.PushBack(tokenBOS)
	}

	ids := t.encodeBytes(text)
	ids = t.merge(ids)
	for _, id := range ids {
		q.PushBack(id)
	}

	if eos {
		q.PushBack(tokenEOS)
	}
	return q
}

// encodeBytes walks text codepoint by codepoint, looking each one up in
// the vocabulary and falling back to per-byte tokens (b+3) when the
// codepoint itself is not a vocabulary entry.
func (t *Tokenizer) encodeBytes(text string) []int {
	var ids []int
	buf := make([]byte, 0, 4)

	for i := 0; i < len(text); i++ {
		b := text[i]
		if b&0xC0 != 0x80 {
			buf = buf[:0]
		}
		buf = append(buf, b)

		if i+1 < len(text) && text[i+1]&0xC0 == 0x80 && len(buf) < 4 {
			continue
		}

		s := string(buf)
		if id, ok := t.vocab.Lookup(s); ok {
			ids = append(ids, id)
		} else {
			for _, raw := range buf {
				ids = append(ids, int(raw)+3)
			}
		}
		buf = buf[:0]
	}
	return ids
}

// merge repeatedly collapses the highest-scoring admissible run of two (or,
// failing that, three) adjacent tokens into the vocabulary entry for their
// concatenation, until no admissible merge remains.
func (t *Tokenizer) merge(ids []int) []int {
	for {
		bestScore := float32(-1e30)
		bestPos := -1
		bestLen := 0
		bestID := 0

		for i := 0; i+1 < len(ids); i++ {
			concat := t.vocab.Tokens[ids[i]] + t.vocab.Tokens[ids[i+1]]
			if id, ok := t.vocab.Lookup(concat); ok {
				if score := t.vocab.Score(id); score > bestScore {
					bestScore, bestPos, bestLen, bestID = score, i, 2, id
				}
			}
		}

		if bestPos == -1 {
			for i := 0; i+2 < len(ids); i++ {
				concat := t.vocab.Tokens[ids[i]] + t.vocab.Tokens[ids[i+1]] + t.vocab.Tokens[ids[i+2]]
				if id, ok := t.vocab.Lookup(concat); ok {
					if score := t.vocab.Score(id); score > bestScore {
						bestScore, bestPos, bestLen, bestID = score, i, 3, id
					}
				}
			}
		}

		if bestPos == -1 {
			break
		}

		merged := make([]int, 0, len(ids)-bestLen+1)
		merged = append(merged, ids[:bestPos]...)
		merged = append(merged, bestID)
		merged = append(merged, ids[bestPos+bestLen:]...)
		ids = merged
	}
	return ids
}

// Decode returns the text a single token expands to. It returns false for
// a token whose vocabulary string is empty, or a single non-printable,
// non-whitespace byte; such tokens are suppressed from generated output.
func (t *Tokenizer) Decode(token int) (string, bool) {
	if token < 0 || token >= len(t.vocab.Tokens) {
		return "", false
	}
	s := t.vocab.Tokens[token]

	if b, ok := decodeByteLiteral(s); ok {
		s = string([]byte{b})
	}

	if len(s) == 0 {
		return "", false
	}
	if len(s) == 1 {
		r := rune(s[0])
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "", false
		}
	}
	return s, true
}

// decodeByteLiteral parses the "<0xHH>" pattern vocab files use to spell
// out raw bytes that have no printable representation.
func decodeByteLiteral(s string) (byte, bool) {
	if len(s) != 6 || s[0] != '<' || s[1] != '0' || s[2] != 'x' || s[5] != '>' {
		return 0, false
	}
	hi, ok := hexDigit(s[3])
	if !ok {
		return 0, false
	}
	lo, ok := hexDigit(s[4])
	if !ok {
		return 0, false
	}
	return byte(hi<<4 | lo), true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
