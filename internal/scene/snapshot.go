package scene

import "time"

// Snapshot is an immutable point-in-time version of a room's content.
// Reconciliation never mutates a snapshot; it produces a new one with a
// bumped version counter, which makes the version usable for cheap
// change detection between two snapshots.
type Snapshot struct {
	Content      Content
	Version      int
	LastModified time.Time
}

// NewSnapshot wraps content into a snapshot. New rooms start at version 1.
func NewSnapshot(content Content, version int) Snapshot {
	if version < 1 {
		version = 1
	}
	return Snapshot{
		Content:      content,
		Version:      version,
		LastModified: time.Now(),
	}
}

// Reconcile merges remote elements and files into the snapshot and
// returns the next snapshot. The version counter is bumped even for
// merges that change no content; idempotence is a contract on the
// content, not on the counter.
func Reconcile(snapshot Snapshot, remoteElements []Element, remoteFiles FileStore) Snapshot {
	content := snapshot.Content
	content.Elements = OrderByIndex(ReconcileElements(snapshot.Content.Elements, remoteElements))
	content.Files = ReconcileFiles(snapshot.Content.Files, remoteFiles)

	return NewSnapshot(content, snapshot.Version+1)
}

// PrepareForSave builds the content handed to the persistence backend.
// File-store entries not referenced by any element that is being saved
// are pruned, so orphaned file metadata does not accumulate in storage.
// Orphans are only ever pruned here, never during reconciliation, to
// tolerate reordering between element and file messages.
func PrepareForSave(snapshot Snapshot, keepDeleted bool) Content {
	content := snapshot.Content

	elements := content.Elements
	if !keepDeleted {
		elements = make([]Element, 0, len(content.Elements))
		for _, element := range content.Elements {
			if !element.IsDeleted {
				elements = append(elements, element)
			}
		}
	}

	referenced := make(map[string]bool)
	for _, element := range elements {
		if element.FileID != "" {
			referenced[element.FileID] = true
		}
	}

	cleanStore := make(FileStore, len(referenced))
	for id, file := range content.Files {
		if referenced[id] {
			cleanStore[id] = file
		}
	}

	content.Elements = elements
	content.Files = cleanStore
	return content
}
