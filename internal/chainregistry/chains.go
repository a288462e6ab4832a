package chainregistry

// HardCap is the chain-specific ceiling no configured
// min_block_confirmations may reach or exceed (spec.md 3, 4.1).
// Values below are the ones spec.md cites as examples; operators
// configuring an unlisted chain must supply one explicitly via
// config.ChainConfig.HardCapBlockConfirmations.
const (
	HardCapEthereum = 12
	HardCapPolygon  = 256
	HardCapSolana   = 32
)

// Well-known chain ids used across tests and default configuration.
const (
	ChainIDEthereum uint64 = 1
	ChainIDPolygon  uint64 = 137
	ChainIDSolana   uint64 = 101 // not an EVM chain id; a local convention for this repo
)

// DefaultHardCap returns the spec-cited hard cap for well-known chain
// ids, or 0 ("unknown, must be configured explicitly") otherwise.
func DefaultHardCap(chainID uint64) (uint64, bool) {
	switch chainID {
	case ChainIDEthereum:
		return HardCapEthereum, true
	case ChainIDPolygon:
		return HardCapPolygon, true
	case ChainIDSolana:
		return HardCapSolana, true
	default:
		return 0, false
	}
}
