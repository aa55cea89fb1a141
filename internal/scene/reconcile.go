package scene

import "sort"

// shouldDiscardRemoteElement decides whether a local copy of an element
// wins over an incoming remote copy. The rule is deterministic so every
// replica applying the same batches converges to the same element set:
// the higher version wins, and conflicting edits with equal versions are
// resolved by taking the lower versionNonce.
func shouldDiscardRemoteElement(local *Element, remote Element) bool {
	if local == nil {
		return false
	}
	if local.Version > remote.Version {
		return true
	}
	return local.Version == remote.Version && local.VersionNonce < remote.VersionNonce
}

// ReconcileElements merges a remote element batch into the local element
// list. Remote elements win unless the local copy is newer; local
// elements missing from the batch are appended unchanged.
func ReconcileElements(local, remote []Element) []Element {
	localByID := make(map[string]*Element, len(local))
	for i := range local {
		localByID[local[i].ID] = &local[i]
	}

	reconciled := make([]Element, 0, len(local)+len(remote))
	added := make(map[string]bool, len(local)+len(remote))

	for _, remoteElement := range remote {
		if added[remoteElement.ID] {
			continue
		}
		localElement := localByID[remoteElement.ID]
		if shouldDiscardRemoteElement(localElement, remoteElement) {
			reconciled = append(reconciled, *localElement)
		} else {
			reconciled = append(reconciled, remoteElement)
		}
		added[remoteElement.ID] = true
	}

	for _, localElement := range local {
		if added[localElement.ID] {
			continue
		}
		reconciled = append(reconciled, localElement)
		added[localElement.ID] = true
	}

	return reconciled
}

// ReconcileFiles merges a remote file store into the local one. A remote
// id unknown locally is adopted as-is. An id present on both sides keeps
// the local record, but its externally resolvable URL fields are
// refreshed from the remote when the remote carries a value: file links
// may be upgraded out-of-band, e.g. a temporary link replaced by a
// permanent storage link.
func ReconcileFiles(local, remote FileStore) FileStore {
	reconciled := make(FileStore, len(local)+len(remote))
	for id, file := range local {
		reconciled[id] = file
	}

	for id, remoteFile := range remote {
		localFile, ok := reconciled[id]
		if !ok {
			reconciled[id] = remoteFile
			continue
		}
		if remoteFile.URL != "" {
			localFile.URL = remoteFile.URL
		}
		if remoteFile.DataURL != "" {
			localFile.DataURL = remoteFile.DataURL
		}
		reconciled[id] = localFile
	}

	return reconciled
}

// OrderByIndex returns the elements sorted by their ordering key.
// When keys are equal the tie is broken by element id; when either key
// is missing the relative array order is kept. Malformed ordering
// metadata must never panic, so the fallback is always the stable
// array order.
func OrderByIndex(elements []Element) []Element {
	ordered := make([]Element, len(elements))
	copy(ordered, elements)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		// defensively keep the array order
		if a.Index == "" || b.Index == "" {
			return false
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.ID < b.ID
	})

	return ordered
}
