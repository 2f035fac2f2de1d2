package serializer

// Chain tries each Serializer in order: the first one to Save successfully
// wins; on Load, each is tried until one succeeds. Grounded on
// original_source/connectome/serializers.py:ChainSerializer.
type Chain struct {
	Serializers []Serializer
}

// NewChain builds a Chain from strategies, tried in the given order.
func NewChain(strategies ...Serializer) *Chain {
	return &Chain{Serializers: strategies}
}

func (c *Chain) Save(value any, dir string) error {
	for _, s := range c.Serializers {
		if err := s.Save(value, dir); err == nil {
			return nil
		}
	}
	return errorf("no serializer was able to save to %s", dir)
}

func (c *Chain) Load(dir string) (any, error) {
	for _, s := range c.Serializers {
		if v, err := s.Load(dir); err == nil {
			return v, nil
		}
	}
	return nil, errorf("no serializer was able to load from %s", dir)
}
