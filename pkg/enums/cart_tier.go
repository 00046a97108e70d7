package enums

// CartTier names the storage tier a cart lives in. At most one tier is
// authoritative at a time, selected by the session's authentication state.
type CartTier string

const (
	// CartTierLocal is the client-only draft kept before any remote sync.
	CartTierLocal CartTier = "local"
	// CartTierTemp is the server-side cart keyed by device id (guests).
	CartTierTemp CartTier = "temp"
	// CartTierPermanent is the server-side cart keyed by user id.
	CartTierPermanent CartTier = "permanent"
)

// String implements fmt.Stringer.
func (c CartTier) String() string {
	return string(c)
}
