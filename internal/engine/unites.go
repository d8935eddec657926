package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/rakunlabs/statemanager/internal/service"
)

// fingerprint hashes a state's parents map with one identifier excluded,
// so sibling branches produced by a single fan-out node share the same
// fingerprint while differing only in the entry for the excluded
// identifier (the fan-out source). Two states with the same fingerprint
// and the same fan-out identifier are siblings that must all complete
// before a node that `unites` on that identifier can run.
func fingerprint(parents map[string]string, excludeIdentifier string) string {
	keys := make([]string, 0, len(parents))
	for k := range parents {
		if k == excludeIdentifier {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(parents[k]))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// unitesSatisfied reports whether a unites.Identifier ancestor group — every
// State with identifier == unites.Identifier sharing the candidate join
// state's fingerprint — satisfies the join strategy: ALL_SUCCESS requires
// every ancestor to be SUCCESS; ALL_DONE accepts any terminal status
// (SUCCESS or ERRORED). A candidate whose ancestor group is still smaller
// than expected (some branch hasn't even committed yet) is unsatisfied
// because the still-QUEUED/CREATED ancestor's status fails both checks.
func unitesSatisfied(strategy string, ancestors []service.State) bool {
	if len(ancestors) == 0 {
		return false
	}
	for _, s := range ancestors {
		switch strategy {
		case service.UnitesAllSuccess:
			if s.Status != service.StatusSuccess {
				return false
			}
		case service.UnitesAllDone:
			if s.Status != service.StatusSuccess && s.Status != service.StatusErrored {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// canonicalJoiner returns the sibling with the lexicographically smallest
// ID, the deterministic tie-break used at lease time to decide which of
// several CREATED join siblings is leased; the others are coalesced to
// SUCCESS (see tryLeaseUnitedCandidate in lease.go).
func canonicalJoiner(siblings []service.State) service.State {
	min := siblings[0]
	for _, s := range siblings[1:] {
		if s.ID < min.ID {
			min = s
		}
	}
	return min
}
