package release

// Collect assembles the complete artifact set from the matrix results.
//
// All-or-nothing: if any cell failed, no set is produced, no matter how
// many artifacts exist. Name collisions between cells are caught here,
// before anything reaches an endpoint.
func Collect(results []CellResult) (*ArtifactSet, error) {
	set := NewArtifactSet()
	failed := []string{}
	for _, res := range results {
		if !res.Built() {
			failed = append(failed, res.Cell.String())
			continue
		}
		if err := set.Add(*res.Artifact); err != nil {
			return nil, NewCollisionError(err)
		}
	}

	if len(failed) > 0 {
		return nil, NewCollectionError(set.Len(), len(results), failed)
	}
	return set, nil
}
