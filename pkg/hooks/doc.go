// Package hooks runs user supplied shell scripts on daemon and run
// lifecycle events. Event data reaches the script as CORA_HOOK_EVENT and
// CORA_HOOK_DATA_* environment variables.
package hooks
