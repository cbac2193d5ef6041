package storage

// Capability names an optional backend feature checked before dispatch.
type Capability string

const (
	CapSelectByIncludeResourceScope Capability = "selectByIncludeResourceScope"
	CapResourceWorkingMemory        Capability = "resourceWorkingMemory"
	CapDeleteMessages               Capability = "deleteMessages"
	CapTraces                       Capability = "traces"
	CapScores                       Capability = "scores"
	CapLegacyEvals                  Capability = "legacyEvals"
)

// Capabilities is the set of features a backend supports.
type Capabilities map[Capability]bool

// Supports reports whether c is in the set.
func (cs Capabilities) Supports(c Capability) bool {
	return cs[c]
}

// Without returns a copy with the given capabilities removed.
func (cs Capabilities) Without(drop ...Capability) Capabilities {
	out := make(Capabilities, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	for _, c := range drop {
		delete(out, c)
	}
	return out
}

// DocumentCapabilities is the capability set of the document database backend.
func DocumentCapabilities() Capabilities {
	return Capabilities{
		CapSelectByIncludeResourceScope: true,
		CapResourceWorkingMemory:        true,
		CapDeleteMessages:               true,
		CapTraces:                       true,
		CapScores:                       true,
		CapLegacyEvals:                  true,
	}
}
