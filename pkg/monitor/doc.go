// Package monitor publishes run step events to a Redis stream.
package monitor
