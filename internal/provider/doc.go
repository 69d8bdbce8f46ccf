// Package provider abstracts the remote source of update metadata. A
// Provider resolves "what is the latest release" and "where are its files";
// the generic implementation reads a YAML channel manifest from a static
// HTTP base URL, validates it against an embedded JSON schema, and resolves
// relative file URLs.
package provider
