// Package blockmap models the block-map format that describes a container
// file as a sequence of checksummed content blocks, and builds differential
// download plans by diffing an old map against a new one. A plan tells the
// downloader which byte ranges to copy from the locally cached old file and
// which to fetch from the remote new file.
package blockmap
