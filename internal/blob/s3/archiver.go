package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// defaultPrefix is used when no object prefix is configured.
const defaultPrefix = "archive/trades"

// TradeArchiveStore is the slice of the trade store the archiver needs:
// query trades past retention and remove them once safely uploaded.
type TradeArchiveStore interface {
	ListTradesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	DeleteTradesBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeArchiver implements domain.Archiver. Trades older than the cutoff are
// serialized to JSONL objects partitioned by exit month
// (<prefix>/YYYY-MM.jsonl), merged with any object already at that path, and
// uploaded. Rows are deleted from the primary store only after every object
// has been verified present with the expected size.
type TradeArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	prefix string
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver writing under the given object
// prefix ("archive/trades" when empty).
func NewTradeArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	prefix string,
	logger *slog.Logger,
) *TradeArchiver {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &TradeArchiver{
		writer: writer,
		reader: reader,
		trades: trades,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// tradeRow is the stable JSONL shape of an archived trade.
type tradeRow struct {
	ID              string    `json:"id"`
	Strategy        string    `json:"strategy"`
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"`
	ShortVenue      string    `json:"short_venue"`
	LongVenue       string    `json:"long_venue"`
	Size            float64   `json:"size"`
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
	ShortEntryPrice float64   `json:"short_entry_price"`
	ShortExitPrice  float64   `json:"short_exit_price"`
	LongEntryPrice  float64   `json:"long_entry_price"`
	LongExitPrice   float64   `json:"long_exit_price"`
	FeesUSD         float64   `json:"fees_usd"`
	RealizedPnL     float64   `json:"realized_pnl"`
}

func newTradeRow(t domain.TradeRecord) tradeRow {
	return tradeRow{
		ID:              t.ID,
		Strategy:        t.Strategy,
		Symbol:          t.Symbol,
		Direction:       string(t.Direction),
		ShortVenue:      t.ShortVenue,
		LongVenue:       t.LongVenue,
		Size:            t.Size,
		EntryTime:       t.EntryTime,
		ExitTime:        t.ExitTime,
		ShortEntryPrice: t.ShortEntryPrice,
		ShortExitPrice:  t.ShortExitPrice,
		LongEntryPrice:  t.LongEntryPrice,
		LongExitPrice:   t.LongExitPrice,
		FeesUSD:         t.FeesUSD,
		RealizedPnL:     t.RealizedPnL,
	}
}

// ArchiveTrades exports all trades with an exit time before the cutoff and
// then deletes them from the primary store. The returned count is the number
// of trades uploaded. On any upload or verification failure nothing is
// deleted; the next run re-exports the same rows (the merge step deduplicates
// nothing, but rows only ever reach an object once because deletion and
// upload succeed or fail as a unit).
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListTradesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	// Partition by exit month so each object holds one calendar month.
	groups := make(map[string][]domain.TradeRecord)
	for _, t := range trades {
		month := t.ExitTime.UTC().Format("2006-01")
		groups[month] = append(groups[month], t)
	}

	months := make([]string, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Strings(months)

	for _, month := range months {
		if err := a.upload(ctx, month, groups[month]); err != nil {
			return 0, err
		}
	}

	// Every object verified; only now do the rows leave the primary store.
	deleted, err := a.trades.DeleteTradesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}

	a.logger.Info("trades archived",
		slog.Int("archived", len(trades)),
		slog.Int64("deleted", deleted),
		slog.Time("before", before),
	)

	return int64(len(trades)), nil
}

// upload writes one month's trades, appending to any object already at the
// path, and verifies the result.
func (a *TradeArchiver) upload(ctx context.Context, month string, trades []domain.TradeRecord) error {
	rows := make([]tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = newTradeRow(t)
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := fmt.Sprintf("%s/%s.jsonl", a.prefix, month)

	// A month can span several runs; merge with what is already there.
	existing, err := a.readExisting(ctx, path)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if existing[len(existing)-1] != '\n' {
			existing = append(existing, '\n')
		}
		buf = append(existing, buf...)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive trades upload %s: %w", path, err)
	}

	return a.verify(ctx, path, int64(len(buf)))
}

// readExisting fetches the current object at path, or nil when none exists.
func (a *TradeArchiver) readExisting(ctx context.Context, path string) ([]byte, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3blob: archive trades read existing %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive trades read existing %s: %w", path, err)
	}
	return data, nil
}

// verify confirms the uploaded object is present with the expected size.
// Rows must not be deleted from the primary store until this passes.
func (a *TradeArchiver) verify(ctx context.Context, path string, wantSize int64) error {
	infos, err := a.reader.List(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades verify %s: %w", path, err)
	}
	for _, info := range infos {
		if info.Path == path {
			if info.Size != wantSize {
				return fmt.Errorf("s3blob: archive trades verify %s: size %d, want %d", path, info.Size, wantSize)
			}
			return nil
		}
	}
	return fmt.Errorf("s3blob: archive trades verify %s: object missing after upload", path)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*TradeArchiver)(nil)
