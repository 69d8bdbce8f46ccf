// Package updater orchestrates the update flow: it asks a provider for the
// latest release, decides whether the install is eligible (version
// comparison, channel, staged rollout), drives the differential or full
// download through the cache, and hands the finished installer to a
// platform launcher. One Updater instance performs one check/download
// sequence at a time; concurrent checks share the in-flight result.
package updater
