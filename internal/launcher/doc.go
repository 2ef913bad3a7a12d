// Package launcher runs the bridge and the desktop client as child
// processes.
//
// A launch follows a fixed order: the bridge process is started and polled
// on /health until it answers, the client configuration is pointed at it,
// and only then is the client started. Any failure along the way stops
// whatever was already running. Output of both children is kept in a
// rolling LogBuffer so recent lines can be shown when something goes wrong.
package launcher
