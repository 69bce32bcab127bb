// Package file provides file-based implementations of driven adapters.
//
// Adapters:
//   - ConfigStore: dot-notation editing of the TOML config file
package file
