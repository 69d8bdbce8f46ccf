// Package config manages user-level settings stored at
// ~/.slimupdate/config.yaml: the feed base URL, the release channel, and
// downloader tuning. Values can be overridden through SLIMUPDATE_* env vars.
package config
