// Package peers defines the Peer record and the concurrently-accessed peer
// table that tracks every node known to this one.
package peers
