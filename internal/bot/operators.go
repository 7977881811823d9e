package bot

// OperatorPolicy decides who may broadcast and reveal authors.
type OperatorPolicy interface {
	IsOperator(externalID int64) bool
}

// OperatorSet is an allow-list of operator identities.
type OperatorSet map[int64]struct{}

// NewOperatorSet builds an allow-list from ids.
func NewOperatorSet(ids ...int64) OperatorSet {
	s := make(OperatorSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s OperatorSet) IsOperator(externalID int64) bool {
	_, ok := s[externalID]
	return ok
}
