// Package config loads the daemon configuration. The main file is JSON and
// covers the feed connection, storage backend, notification channels and the
// ambient services; secrets may be supplied through a .env file or the
// environment. The tracked-symbol list lives in a separate YAML watch file
// that can be edited at runtime and is hot-reloaded through fsnotify.
package config
