package device

import "github.com/niclabs/cardmw/objects"

// MaxAlgorithms bounds the capability table of a card.
const MaxAlgorithms = 32

// Capabilities is the ordered capability table advertised by a card. The
// order matters: vendor tables may list overlapping entries and the first
// matching one wins.
type Capabilities struct {
	algorithms []AlgorithmInfo
}

// Add appends info to the table.
func (c *Capabilities) Add(info AlgorithmInfo) error {
	if len(c.algorithms) >= MaxAlgorithms {
		return objects.NewError("Capabilities.Add", "capability table is full", objects.InvalidArguments)
	}
	c.algorithms = append(c.algorithms, info)
	return nil
}

// Find returns the first entry for alg with the given key length. A
// keyLength of 0 matches any entry of alg.
func (c *Capabilities) Find(alg Algorithm, keyLength int) (*AlgorithmInfo, bool) {
	for i := range c.algorithms {
		info := &c.algorithms[i]
		if info.Algorithm != alg {
			continue
		}
		if keyLength != 0 && info.KeyLength != keyLength {
			continue
		}
		out := *info
		return &out, true
	}
	return nil, false
}

// All returns a copy of the table.
func (c *Capabilities) All() []AlgorithmInfo {
	out := make([]AlgorithmInfo, len(c.algorithms))
	copy(out, c.algorithms)
	return out
}

// Len returns the number of entries.
func (c *Capabilities) Len() int {
	return len(c.algorithms)
}
