// Package suiterun launches test-suite runs as child processes and tracks
// their lifecycle.
package suiterun

// Version is the suiterun release version.
const Version = "0.3.0"
