package models

import "peerdrop/storage"

// Transfer is a send or receive as reported by the control API.
type Transfer struct {
	TransferID  string `json:"transfer_id"`
	Direction   string `json:"direction"`
	Ticket      string `json:"ticket,omitempty"`
	PeerID      string `json:"peer_id,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  *int64 `json:"finished_at,omitempty"`
}

// TransferFromRecord converts a stored transfer row.
func TransferFromRecord(record storage.Transfer) Transfer {
	return Transfer(record)
}

// TransferResult is the final line of a send or receive event stream.
type TransferResult struct {
	Ticket string `json:"ticket,omitempty"`
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Error  string `json:"error,omitempty"`
}
