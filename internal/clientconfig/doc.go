// Package clientconfig wires a third-party desktop client to the bridge by
// rewriting the client's own JSON configuration.
//
// Install adds exactly one entry, under a well-known key of the
// "mcpServers" object, that runs a generated connector script with the
// bridge address and token in its environment. Every other key of the
// document, and every other server entry, is carried over unchanged and
// in its original order.
//
// Each mutation follows the same discipline:
//
//  1. copy the existing file to <path>.backup.<epoch-millis>
//  2. read and parse it; a missing or unparseable file is an empty document
//  3. build the complete next document in memory
//  4. write it to a temporary file in the same directory and rename it
//     over the original
//
// A failure at any step leaves the live file as it was.
package clientconfig
