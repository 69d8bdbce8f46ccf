// Package platform holds the per-OS piece of the update flow: the installer
// launcher that hands a downloaded update off to the operating system.
package platform
