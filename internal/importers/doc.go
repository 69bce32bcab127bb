// Package importers provides the importer registry and the shared helpers
// used by the format-specific importers in its subpackages. Each importer
// knows how to extract normalised sections from one family of file
// extensions.
//
// Importers are registered with the Registry at startup.
package importers
