package tokenizer

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Vocab holds the token strings and merge scores read from a tokenizer
// file, plus an index sorted by string for O(log V) lookup of a raw
// string's token id.
type Vocab struct {
	MaxTokenLength uint32
	Tokens         []string
	Scores         []float32

	sortedStrings []string
	sortedIDs     []int
}

// LoadVocab reads maxTokenLength, then vocabSize records of
// (score f32, len i32, bytes[len]), building the vocab and its sorted
// lookup index.
func LoadVocab(r io.Reader, vocabSize int) (*Vocab, error) {
	v := &Vocab{
		Tokens: make([]string, vocabSize),
		Scores: make([]float32, vocabSize),
	}
	if err := binary.Read(r, binary.LittleEndian, &v.MaxTokenLength); err != nil {
		return nil, fmt.Errorf("tokenizer: read maxTokenLength: %w", err)
	}

	for i := 0; i < vocabSize; i++ {
		var score float32
		if err := binary.Read(r, binary.LittleEndian, &score); err != nil {
			return nil, fmt.Errorf("tokenizer: read score %d: %w", i, err)
		}
		var strLen int32
		if err := binary.Read(r, binary.LittleEndian, &strLen); err != nil {
			return nil, fmt.Errorf("tokenizer: read len %d: %w", i, err)
		}
		buf := make([]byte, strLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("tokenizer: read bytes %d: %w", i, err)
		}
		v.Scores[i] = score
		v.Tokens[i] = string(buf)
	}

	v.buildIndex()
	return v, nil
}

func (v *Vocab) buildIndex() {
	order := make([]int, len(v.Tokens))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return v.Tokens[order[i]] < v.Tokens[order[j]] })

	v.sortedStrings = make([]string, len(order))
	v.sortedIDs = make([]int, len(order))
	for i, id := range order {
		v.sortedStrings[i] = v.Tokens[id]
		v.sortedIDs[i] = id
	}
}

// Lookup finds the token id for s, if present, in O(log V).
func (v *Vocab) Lookup(s string) (id int, ok bool) {
	i := sort.SearchStrings(v.sortedStrings, s)
	if i < len(v.sortedStrings) && v.sortedStrings[i] == s {
		return v.sortedIDs[i], true
	}
	return 0, false
}

// Score returns the merge score of token id, or a very negative sentinel
// if id is out of range.
func (v *Vocab) Score(id int) float32 {
	if id < 0 || id >= len(v.Scores) {
		return -1e30
	}
	return v.Scores[id]
}
