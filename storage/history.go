package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipdrop/models"
)

const defaultHistoryListLimit = 100

// SetHistoryRetention configures the automatic pruning horizon applied on save.
func (s *Store) SetHistoryRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	s.historyRetention = retention
}

// RecordTransfer stores a settled ledger record, replacing any earlier row
// for the same record ID.
func (s *Store) RecordTransfer(record models.TransferRecord) error {
	finishedAt := record.UpdatedAt.UnixMilli()
	if record.UpdatedAt.IsZero() {
		finishedAt = nowUnixMilli()
	}

	return s.SaveTransfer(TransferHistory{
		RecordID:      record.ID,
		FileName:      record.FileName,
		Kind:          record.Kind.String(),
		Status:        record.Status.String(),
		FileSize:      record.FileSize,
		TotalBytes:    record.TotalBytes,
		ReceivedCount: record.ReceivedCount,
		TotalCount:    record.TotalCount,
		DeviceName:    stringPointer(record.DeviceName),
		StoredPath:    stringPointer(record.StoredPath),
		DateInfo:      stringPointer(record.DateInfo),
		FinishedAt:    finishedAt,
	})
}

// SaveTransfer upserts one history row and applies retention pruning.
func (s *Store) SaveTransfer(history TransferHistory) error {
	if strings.TrimSpace(history.RecordID) == "" {
		return errors.New("record_id is required")
	}
	if history.FileName == "" {
		return errors.New("file_name is required")
	}
	if history.Kind == "" {
		history.Kind = models.KindSingle.String()
	}
	if _, err := models.ParseKind(history.Kind); err != nil {
		return err
	}
	if _, err := models.ParseStatus(history.Status); err != nil {
		return err
	}
	if history.FinishedAt == 0 {
		history.FinishedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfer_history (
			record_id,
			file_name,
			kind,
			status,
			file_size,
			total_bytes,
			received_count,
			total_count,
			device_name,
			stored_path,
			date_info,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			file_name = excluded.file_name,
			kind = excluded.kind,
			status = excluded.status,
			file_size = excluded.file_size,
			total_bytes = excluded.total_bytes,
			received_count = excluded.received_count,
			total_count = excluded.total_count,
			device_name = excluded.device_name,
			stored_path = excluded.stored_path,
			date_info = excluded.date_info,
			finished_at = excluded.finished_at`,
		history.RecordID,
		history.FileName,
		history.Kind,
		history.Status,
		history.FileSize,
		history.TotalBytes,
		history.ReceivedCount,
		history.TotalCount,
		nullString(history.DeviceName),
		nullString(history.StoredPath),
		nullString(history.DateInfo),
		history.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer history %q: %w", history.RecordID, err)
	}

	if s.historyRetention > 0 {
		cutoff := time.Now().Add(-s.historyRetention).UnixMilli()
		if _, err := s.PruneTransfers(cutoff); err != nil {
			return fmt.Errorf("prune transfer history: %w", err)
		}
	}

	return nil
}

// GetTransfer returns one history row by record ID.
func (s *Store) GetTransfer(recordID string) (*TransferHistory, error) {
	if recordID == "" {
		return nil, errors.New("record_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			record_id,
			file_name,
			kind,
			status,
			file_size,
			total_bytes,
			received_count,
			total_count,
			device_name,
			stored_path,
			date_info,
			finished_at
		FROM transfer_history
		WHERE record_id = ?`,
		recordID,
	)

	history, err := scanTransferHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer history %q: %w", recordID, err)
	}
	return history, nil
}

// ListTransfers returns the most recently finished rows first.
func (s *Store) ListTransfers(limit int) ([]TransferHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryListLimit
	}

	rows, err := s.db.Query(
		`SELECT
			record_id,
			file_name,
			kind,
			status,
			file_size,
			total_bytes,
			received_count,
			total_count,
			device_name,
			stored_path,
			date_info,
			finished_at
		FROM transfer_history
		ORDER BY finished_at DESC, record_id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfer history: %w", err)
	}
	defer rows.Close()

	histories := make([]TransferHistory, 0)
	for rows.Next() {
		history, err := scanTransferHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer history row: %w", err)
		}
		histories = append(histories, *history)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer history rows: %w", err)
	}

	return histories, nil
}

// DeleteTransfer removes one history row.
func (s *Store) DeleteTransfer(recordID string) error {
	if recordID == "" {
		return errors.New("record_id is required")
	}

	res, err := s.db.Exec(`DELETE FROM transfer_history WHERE record_id = ?`, recordID)
	if err != nil {
		return fmt.Errorf("delete transfer history %q: %w", recordID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer history delete: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// PruneTransfers removes rows finished before cutoffTimestamp.
func (s *Store) PruneTransfers(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM transfer_history WHERE finished_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune transfer history: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for transfer history prune: %w", err)
	}

	return rowsAffected, nil
}

func scanTransferHistory(row scanner) (*TransferHistory, error) {
	var (
		history    TransferHistory
		deviceName sql.NullString
		storedPath sql.NullString
		dateInfo   sql.NullString
	)
	if err := row.Scan(
		&history.RecordID,
		&history.FileName,
		&history.Kind,
		&history.Status,
		&history.FileSize,
		&history.TotalBytes,
		&history.ReceivedCount,
		&history.TotalCount,
		&deviceName,
		&storedPath,
		&dateInfo,
		&history.FinishedAt,
	); err != nil {
		return nil, err
	}

	history.DeviceName = stringPtr(deviceName)
	history.StoredPath = stringPtr(storedPath)
	history.DateInfo = stringPtr(dateInfo)
	return &history, nil
}
