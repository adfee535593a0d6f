package objects

// MaxSupportedAlgorithms bounds the supported algorithm table of a token.
const MaxSupportedAlgorithms = 16

// SupportedAlgorithm is an entry of the token info supported algorithm
// table. AlgoRef is the card specific reference for Mechanism.
type SupportedAlgorithm struct {
	Reference uint
	Mechanism uint
	AlgoRef   uint
}

// SupportedAlgorithms is an ordered table; lookups return the first match.
// A zero Reference is a valid entry.
type SupportedAlgorithms []SupportedAlgorithm

// Add appends alg, failing when the table is full.
func (s *SupportedAlgorithms) Add(alg SupportedAlgorithm) error {
	if len(*s) >= MaxSupportedAlgorithms {
		return NewError("SupportedAlgorithms.Add", "too many supported algorithms", InvalidArguments)
	}
	*s = append(*s, alg)
	return nil
}

// FindMechanism returns the first entry for mechanism.
func (s SupportedAlgorithms) FindMechanism(mechanism uint) (SupportedAlgorithm, bool) {
	for _, alg := range s {
		if alg.Mechanism == mechanism {
			return alg, true
		}
	}
	return SupportedAlgorithm{}, false
}

// Clone returns a copy of the table.
func (s SupportedAlgorithms) Clone() SupportedAlgorithms {
	if s == nil {
		return nil
	}
	out := make(SupportedAlgorithms, len(s))
	copy(out, s)
	return out
}
