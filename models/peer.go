package models

import "peerdrop/discovery"

// Node describes the local node.
type Node struct {
	NodeID      string `json:"node_id"`
	Fingerprint string `json:"fingerprint"`
	Ticket      string `json:"ticket"`
	Blobs       int64  `json:"blobs"`
	BlobBytes   int64  `json:"blob_bytes"`
}

// Peer represents a node seen on the local network.
type Peer struct {
	NodeID            string   `json:"node_id"`
	Name              string   `json:"name"`
	Fingerprint       string   `json:"fingerprint"`
	Version           int      `json:"version"`
	Addresses         []string `json:"addresses"`
	LastSeenTimestamp int64    `json:"last_seen_timestamp"`
}

// PeerFromDiscovery converts an mDNS record.
func PeerFromDiscovery(peer discovery.DiscoveredPeer) Peer {
	return Peer{
		NodeID:            peer.ID.String(),
		Name:              peer.Name,
		Fingerprint:       peer.Fingerprint,
		Version:           peer.Version,
		Addresses:         append([]string(nil), peer.Addresses...),
		LastSeenTimestamp: peer.LastSeen.UnixMilli(),
	}
}
