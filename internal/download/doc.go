// Package download executes update downloads: a differential downloader that
// reconstructs the new installer from a cached old file plus HTTP range
// requests guided by a block-map diff, and a full downloader used as the
// fallback. Both verify the result against the manifest's sha512 and honor
// cooperative cancellation through the request context.
package download
