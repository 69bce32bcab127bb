package domain

// SourceKind classifies where ingested material came from.
type SourceKind string

// Known source kinds.
const (
	// SourceFile is a document read from the local filesystem.
	SourceFile SourceKind = "file"

	// SourceChatExport is a record from a structured chat or conversation export.
	SourceChatExport SourceKind = "chat_export"

	// SourceURL is material captured from a web page.
	SourceURL SourceKind = "url"
)

// Source is the origin of ingested material.
// It is created on first import of an origin and never mutated.
type Source struct {
	// Kind classifies the origin.
	Kind SourceKind `json:"kind"`

	// Origin is the file path or URI the material came from.
	Origin string `json:"origin"`

	// Grade is an optional quality or trust grade declared by the material.
	Grade string `json:"grade,omitempty"`
}
