// Package genclient provides an HTTP client for the interactive image-to-video
// generation backend.
//
// It covers the process, reset and pipeline status endpoints and maps
// transport failures onto typed errors.
package genclient
