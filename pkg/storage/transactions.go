package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/entrhq/renewal/pkg/types"
)

// RecordTransaction stores the result of a renewal attempt.
func (s *Store) RecordTransaction(ctx context.Context, rec types.TransactionRecord) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return retryBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO transactions (
				decoder_number, package_id, option_id, duration_id, amount_gnf, status,
				reference_number, portal_username, processing_time_ms, error_message, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.DecoderNumber, rec.PackageID, nullString(rec.OptionID), nullString(rec.DurationID),
			rec.AmountGNF, rec.Status, nullString(rec.ReferenceNumber), nullString(rec.PortalUsername),
			rec.ProcessingTimeMs, nullString(rec.ErrorMessage), rec.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
}

// ListTransactions returns the most recent transactions, newest first.
// An empty decoder lists every subscriber.
func (s *Store) ListTransactions(ctx context.Context, decoder string, limit int) ([]types.TransactionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT decoder_number, package_id, option_id, duration_id, amount_gnf, status,
		       reference_number, portal_username, processing_time_ms, error_message, created_at
		FROM transactions
		WHERE ? = '' OR decoder_number = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, decoder, decoder, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TransactionRecord
	for rows.Next() {
		var (
			rec                                     types.TransactionRecord
			option, duration, ref, username, errMsg sql.NullString
			created                                 string
		)
		if err := rows.Scan(&rec.DecoderNumber, &rec.PackageID, &option, &duration, &rec.AmountGNF, &rec.Status,
			&ref, &username, &rec.ProcessingTimeMs, &errMsg, &created); err != nil {
			return nil, err
		}
		rec.OptionID = option.String
		rec.DurationID = duration.String
		rec.ReferenceNumber = ref.String
		rec.PortalUsername = username.String
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
