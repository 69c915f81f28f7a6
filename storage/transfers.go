package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const transferColumns = `transfer_id,
			direction,
			ticket,
			peer_id,
			file_path,
			display_name,
			size,
			status,
			error,
			started_at,
			finished_at`

// CreateTransfer inserts a new transfer row.
func (s *Store) CreateTransfer(transfer Transfer) error {
	if transfer.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if err := validateDirection(transfer.Direction); err != nil {
		return err
	}
	if transfer.Status == "" {
		transfer.Status = TransferStatusPending
	}
	if err := validateTransferStatus(transfer.Status); err != nil {
		return err
	}
	if transfer.StartedAt == 0 {
		transfer.StartedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.TransferID,
		transfer.Direction,
		transfer.Ticket,
		transfer.PeerID,
		transfer.FilePath,
		transfer.DisplayName,
		transfer.Size,
		transfer.Status,
		transfer.Error,
		transfer.StartedAt,
		nullInt64(transfer.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transfer %q: %w", transfer.TransferID, err)
	}
	return nil
}

// UpdateTransferTicket sets the ticket of a send once it is known.
func (s *Store) UpdateTransferTicket(transferID, ticket string) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}
	return s.execTransferUpdate(transferID,
		`UPDATE transfers SET ticket = ? WHERE transfer_id = ?`,
		ticket, transferID,
	)
}

// CompleteTransfer marks a transfer complete with its final location and size.
func (s *Store) CompleteTransfer(transferID, filePath, displayName string, size int64) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}
	return s.execTransferUpdate(transferID,
		`UPDATE transfers
		SET status = ?, file_path = ?, display_name = ?, size = ?, finished_at = ?
		WHERE transfer_id = ?`,
		TransferStatusComplete, filePath, displayName, size, nowUnixMilli(), transferID,
	)
}

// FailTransfer marks a transfer failed with the error text.
func (s *Store) FailTransfer(transferID, message string) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}
	return s.execTransferUpdate(transferID,
		`UPDATE transfers SET status = ?, error = ?, finished_at = ? WHERE transfer_id = ?`,
		TransferStatusFailed, message, nowUnixMilli(), transferID,
	)
}

// GetTransfer fetches one transfer by ID.
func (s *Store) GetTransfer(transferID string) (*Transfer, error) {
	if transferID == "" {
		return nil, errors.New("transfer_id is required")
	}

	row := s.db.QueryRow(
		`SELECT `+transferColumns+` FROM transfers WHERE transfer_id = ?`,
		transferID,
	)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}
	return transfer, nil
}

// ListTransfers returns transfers newest first.
func (s *Store) ListTransfers(limit, offset int) ([]Transfer, error) {
	limit, offset = page(limit, offset)

	rows, err := s.db.Query(
		`SELECT `+transferColumns+`
		FROM transfers
		ORDER BY started_at DESC, transfer_id
		LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return transfers, nil
}

func (s *Store) execTransferUpdate(transferID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update transfer %q: %w", transferID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer update: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransfer(row scanner) (*Transfer, error) {
	var (
		transfer   Transfer
		finishedAt sql.NullInt64
	)
	if err := row.Scan(
		&transfer.TransferID,
		&transfer.Direction,
		&transfer.Ticket,
		&transfer.PeerID,
		&transfer.FilePath,
		&transfer.DisplayName,
		&transfer.Size,
		&transfer.Status,
		&transfer.Error,
		&transfer.StartedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	transfer.FinishedAt = int64Ptr(finishedAt)
	return &transfer, nil
}
