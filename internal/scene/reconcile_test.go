package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func el(id string, version int, nonce int64) Element {
	return Element{ID: id, Type: "rectangle", Version: version, VersionNonce: nonce}
}

func ids(elements []Element) []string {
	out := make([]string, 0, len(elements))
	for _, e := range elements {
		out = append(out, e.ID)
	}
	return out
}

func TestReconcileElementsHigherVersionWins(t *testing.T) {
	local := []Element{el("a", 3, 10)}
	remote := []Element{el("a", 2, 1)}

	merged := ReconcileElements(local, remote)

	assert.Len(t, merged, 1)
	assert.Equal(t, 3, merged[0].Version)
}

func TestReconcileElementsRemoteNewerWins(t *testing.T) {
	local := []Element{el("a", 2, 10)}
	remote := []Element{el("a", 5, 1)}

	merged := ReconcileElements(local, remote)

	assert.Len(t, merged, 1)
	assert.Equal(t, 5, merged[0].Version)
}

func TestReconcileElementsEqualVersionLowerNonceWins(t *testing.T) {
	local := []Element{el("a", 2, 3)}
	remote := []Element{el("a", 2, 5)}

	merged := ReconcileElements(local, remote)
	assert.Equal(t, int64(3), merged[0].VersionNonce)

	// same pair, sides swapped, same winner
	merged = ReconcileElements([]Element{el("a", 2, 5)}, []Element{el("a", 2, 3)})
	assert.Equal(t, int64(3), merged[0].VersionNonce)
}

func TestReconcileElementsKeepsLocalLeftovers(t *testing.T) {
	local := []Element{el("a", 1, 1), el("b", 1, 1)}
	remote := []Element{el("c", 1, 1)}

	merged := ReconcileElements(local, remote)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(merged))
}

func TestReconcileElementsDuplicateRemoteIDs(t *testing.T) {
	remote := []Element{el("a", 1, 1), el("a", 9, 9)}

	merged := ReconcileElements(nil, remote)

	assert.Len(t, merged, 1)
	assert.Equal(t, 1, merged[0].Version)
}

func TestReconcileElementsConvergesAcrossOrderings(t *testing.T) {
	batch1 := []Element{el("a", 2, 4), el("b", 1, 1)}
	batch2 := []Element{el("a", 2, 7), el("c", 3, 2)}

	oneTwo := ReconcileElements(ReconcileElements(nil, batch1), batch2)
	twoOne := ReconcileElements(ReconcileElements(nil, batch2), batch1)

	byID := func(elements []Element) map[string]Element {
		m := make(map[string]Element)
		for _, e := range elements {
			m[e.ID] = e
		}
		return m
	}
	assert.Equal(t, byID(oneTwo), byID(twoOne))
	assert.Equal(t, int64(4), byID(oneTwo)["a"].VersionNonce)
}

func TestReconcileFilesAdoptsUnknownRemote(t *testing.T) {
	local := FileStore{"f1": {ID: "f1", MimeType: "image/png"}}
	remote := FileStore{"f2": {ID: "f2", MimeType: "image/jpeg"}}

	merged := ReconcileFiles(local, remote)

	assert.Len(t, merged, 2)
	assert.Equal(t, "image/jpeg", merged["f2"].MimeType)
}

func TestReconcileFilesKeepsLocalButRefreshesLinks(t *testing.T) {
	local := FileStore{"f1": {ID: "f1", MimeType: "image/png", URL: "https://tmp/f1"}}
	remote := FileStore{"f1": {ID: "f1", MimeType: "image/webp", URL: "https://cdn/f1"}}

	merged := ReconcileFiles(local, remote)

	assert.Equal(t, "image/png", merged["f1"].MimeType)
	assert.Equal(t, "https://cdn/f1", merged["f1"].URL)
}

func TestReconcileFilesEmptyRemoteLinkKeepsLocal(t *testing.T) {
	local := FileStore{"f1": {ID: "f1", URL: "https://cdn/f1", DataURL: "data:x"}}
	remote := FileStore{"f1": {ID: "f1"}}

	merged := ReconcileFiles(local, remote)

	assert.Equal(t, "https://cdn/f1", merged["f1"].URL)
	assert.Equal(t, "data:x", merged["f1"].DataURL)
}

func TestOrderByIndex(t *testing.T) {
	elements := []Element{
		{ID: "c", Index: "a2"},
		{ID: "a", Index: "a1"},
		{ID: "b", Index: "a1"},
	}

	ordered := OrderByIndex(elements)

	assert.Equal(t, []string{"a", "b", "c"}, ids(ordered))
}

func TestOrderByIndexMissingKeyKeepsArrayOrder(t *testing.T) {
	elements := []Element{
		{ID: "x"},
		{ID: "m", Index: "a1"},
		{ID: "y"},
	}

	ordered := OrderByIndex(elements)

	assert.Equal(t, []string{"x", "m", "y"}, ids(ordered))
}

func TestOrderByIndexDoesNotMutateInput(t *testing.T) {
	elements := []Element{{ID: "b", Index: "a2"}, {ID: "a", Index: "a1"}}

	OrderByIndex(elements)

	assert.Equal(t, "b", elements[0].ID)
}
