package scene

import (
	"encoding/json"
)

// Element is a single whiteboard element. Elements are immutable by
// replacement: an edit produces a new record with a higher version.
// The full client payload is kept verbatim in raw so unknown fields
// survive a round trip through the server.
type Element struct {
	ID           string
	Type         string
	Version      int
	VersionNonce int64
	Index        string // ordering key; empty when the client never ordered it
	IsDeleted    bool
	FileID       string

	raw json.RawMessage
}

type elementAlias struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Version      int    `json:"version"`
	VersionNonce int64  `json:"versionNonce"`
	Index        string `json:"index,omitempty"`
	IsDeleted    bool   `json:"isDeleted,omitempty"`
	FileID       string `json:"fileId,omitempty"`
}

// UnmarshalJSON keeps the original payload around next to the parsed
// metadata fields.
func (e *Element) UnmarshalJSON(data []byte) error {
	var alias elementAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	e.ID = alias.ID
	e.Type = alias.Type
	e.Version = alias.Version
	e.VersionNonce = alias.VersionNonce
	e.Index = alias.Index
	e.IsDeleted = alias.IsDeleted
	e.FileID = alias.FileID
	e.raw = append(json.RawMessage(nil), data...)

	return nil
}

// MarshalJSON emits the original payload when the element came off the
// wire, so fields the server does not model are not lost.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}

	return json.Marshal(elementAlias{
		ID:           e.ID,
		Type:         e.Type,
		Version:      e.Version,
		VersionNonce: e.VersionNonce,
		Index:        e.Index,
		IsDeleted:    e.IsDeleted,
		FileID:       e.FileID,
	})
}

// File is the metadata record for a binary file referenced by elements
// through their fileId foreign key.
type File struct {
	ID            string `json:"id"`
	MimeType      string `json:"mimeType"`
	URL           string `json:"url,omitempty"`
	DataURL       string `json:"dataURL,omitempty"`
	Created       int64  `json:"created"`
	LastRetrieved int64  `json:"lastRetrieved,omitempty"`
}

// FileStore maps file ids to their metadata records.
type FileStore map[string]File

// Content is the full document of one room.
type Content struct {
	Type     string          `json:"type"`
	Version  int             `json:"version"`
	Source   string          `json:"source,omitempty"`
	Elements []Element       `json:"elements"`
	AppState json.RawMessage `json:"appState,omitempty"`
	Files    FileStore       `json:"files"`
}

// InitialContent returns the empty document served when a room has no
// persisted content yet.
func InitialContent() Content {
	return Content{
		Type:     "excalidraw",
		Version:  2,
		Elements: []Element{},
		Files:    FileStore{},
	}
}
