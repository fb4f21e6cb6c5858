package disktree

// DEFLAG masks the low 60 bits of a stored value, the part callers actually
// care about; everything at bit 60 and above is reserved for flags.
const DEFLAG uint64 = 0x0FFF_FFFF_FFFF_FFFF

// FlagPartial marks a value inserted against a suffix-entry key derived
// from a word-break transition (§4.6), rather than against the original
// full key. Exact lookups filter entries carrying this bit; prefix search
// does not.
const FlagPartial uint64 = 0x1000_0000_0000_0000

// checkRange reports ErrRange if v sets any of the top 4 bits (60-63),
// whether that is FlagPartial or one of the still-unassigned bits 61-63.
// Callers supply plain 60-bit ids to Builder.Add; only the Builder itself
// ever sets FlagPartial, on its own internal suffix-entry merges.
func checkRange(v uint64) error {
	if v&^DEFLAG != 0 {
		return ErrRange
	}
	return nil
}
