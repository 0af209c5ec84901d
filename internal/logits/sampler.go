package logits

import (
	"fmt"
	"sort"

	"github.com/ak42/llamacpu/internal/tensor"
)

// Kind selects which sampling strategy a Sampler runs. Sampler is a sum
// type dispatched on Kind rather than a set of interface implementations:
// the strategies share scratch buffers and state too intimately to be
// worth the indirection of runtime polymorphism.
type Kind int

const (
	Argmax Kind = iota
	Simple
	Nucleus
)

// Sampler draws a token index from a logits vector of length vocabSize.
type Sampler struct {
	Kind Kind

	// Nucleus parameters.
	Temperature float32
	TopP        float32

	rng     *RNG
	probs   tensor.FloatTensor
	scratch []probIndex
}

type probIndex struct {
	index int
	prob  float32
}

// NewArgmaxSampler returns a deterministic, seed-free sampler.
func NewArgmaxSampler() *Sampler {
	return &Sampler{Kind: Argmax}
}

// NewSimpleSampler returns a softmax-temperature-1 categorical sampler
// driven by the given seed.
func NewSimpleSampler(seed uint64) *Sampler {
	return &Sampler{Kind: Simple, rng: NewRNG(seed)}
}

// NewNucleusSampler returns a top-p sampler with the given temperature and
// nucleus mass, driven by the given seed.
func NewNucleusSampler(temperature, topP float32, seed uint64) *Sampler {
	return &Sampler{Kind: Nucleus, Temperature: temperature, TopP: topP, rng: NewRNG(seed)}
}

// Sample draws a token index from logits. logits is read but not mutated.
func (s *Sampler) Sample(logits tensor.FloatTensor) (int, error) {
	switch s.Kind {
	case Argmax:
		return sampleArgmax(logits), nil
	case Simple:
		return s.sampleSimple(logits), nil
	case Nucleus:
		return s.sampleNucleus(logits), nil
	default:
		return 0, fmt.Errorf("logits: unknown sampler kind %d", s.Kind)
	}
}

// sampleArgmax returns the index of the largest element, lowest index
// winning ties.
func sampleArgmax(logits tensor.FloatTensor) int {
	best := 0
	bestVal := logits[0]
	for i, v := range logits[1:] {
		if v > bestVal {
			bestVal = v
			best = i + 1
		}
	}
	return best
}

func (s *Sampler) ensureProbsLen(n int) {
	if cap(s.probs) < n {
		s.probs = make(tensor.FloatTensor, n)
	}
	s.probs = s.probs[:n]
}

func (s *Sampler) sampleSimple(logits tensor.FloatTensor) int {
	s.ensureProbsLen(len(logits))
	copy(s.probs, logits)
	tensor.Softmax(s.probs)

	r := s.rng.Float32()
	var cdf float32
	for i, p := range s.probs {
		cdf += p
		if r < cdf {
			return i
		}
	}
	return len(s.probs) - 1
}

func (s *Sampler) sampleNucleus(logits tensor.FloatTensor) int {
	n := len(logits)
	s.ensureProbsLen(n)

	temp := s.Temperature
	if temp <= 0 {
		return sampleArgmax(logits)
	}
	invTemp := 1 / temp
	for i, v := range logits {
		s.probs[i] = v * invTemp
	}
	tensor.Softmax(s.probs)

	threshold := (1 - s.TopP) / float32(n-1)
	s.scratch = s.scratch[:0]
	for i, p := range s.probs {
		if p >= threshold {
			s.scratch = append(s.scratch, probIndex{index: i, prob: p})
		}
	}

	sort.Slice(s.scratch, func(i, j int) bool { return s.scratch[i].prob > s.scratch[j].prob })

	var cumMass float32
	cutoff := len(s.scratch)
	for i, pi := range s.scratch {
		cumMass += pi.prob
		if cumMass >= s.TopP {
			cutoff = i + 1
			break
		}
	}
	prefix := s.scratch[:cutoff]

	r := s.rng.Float32() * cumMass
	var cdf float32
	for _, pi := range prefix {
		cdf += pi.prob
		if r < cdf {
			return pi.index
		}
	}
	return prefix[len(prefix)-1].index
}
