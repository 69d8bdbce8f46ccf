// Package cli defines the Cobra command tree for the slimupdate CLI. Each
// file in this package registers one top-level command (check, download,
// apply, version) with the root command. Command implementations delegate to
// internal packages for the update logic and only handle flag parsing, I/O
// formatting, and user interaction.
package cli
