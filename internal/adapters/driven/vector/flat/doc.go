// Package flat provides an exact cosine-similarity vector index held in
// memory and persisted to a single binary snapshot file.
//
// Every vector is stored with its precomputed norm. Search scans all
// vectors, which is fast enough for a local corpus and returns exact
// results without any approximate-index tuning.
package flat
