package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// multipartThreshold is the payload size above which an archive upload
// switches from a single PutObject to the multipart uploader.
const multipartThreshold = 32 << 20

// archivePartSize is the part size used for multipart archive uploads.
const archivePartSize = 8 << 20

// TickArchiveStore is the slice of the tick store the archiver needs: reads
// for archival and batch writes for restore. It never deletes; deletion of
// archived rows is a separate, explicit step taken by the caller after the
// upload has succeeded.
type TickArchiveStore interface {
	// ListBefore returns all ticks with a timestamp strictly before the given
	// cutoff, in (timestamp, arrival) order.
	ListBefore(ctx context.Context, before int64) ([]domain.Tick, error)

	// InsertBatch appends restored ticks back into the hot store.
	InsertBatch(ctx context.Context, ticks []domain.Tick) error
}

// ArchiveImpl implements domain.Archiver by querying the tick store for old
// rows, serializing them to JSONL, and uploading the result to S3. After the
// upload it reads the object back via the reader to confirm the archive
// exists before reporting success; callers only delete rows after that.
// RestoreTicks walks the archive prefix in the other direction, decoding
// objects back into the tick store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	ticks  TickArchiveStore

	// multipartAt is the payload size at which uploads go multipart.
	multipartAt int64
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case the
// post-upload existence check is skipped and RestoreTicks is unavailable.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, ticks TickArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		reader:      reader,
		ticks:       ticks,
		multipartAt: multipartThreshold,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// tickRecord is the JSONL line shape for an archived tick. Optional fields
// are omitted when the feed never reported them.
type tickRecord struct {
	Seq           int64    `json:"seq"`
	Instrument    string   `json:"instrument"`
	Exchange      string   `json:"exchange"`
	Price         float64  `json:"price"`
	Timestamp     int64    `json:"timestamp"`
	Session       *string  `json:"session,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
	Volume        *int64   `json:"volume,omitempty"`
	DayVolume     *int64   `json:"day_volume,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	PriceHint     *int64   `json:"price_hint,omitempty"`
}

// ArchiveTicks queries all ticks before the cutoff, serializes them to JSONL,
// and uploads the file to S3. It returns the count of archived rows. The rows
// are not deleted here.
//
// Each run writes its own object, keyed by the cutoff. Runs whose cutoffs
// fall in the same month must never share a key: the caller deletes the
// archived rows afterwards, so overwriting an earlier run's object would
// destroy the only remaining copy of its ticks.
func (a *ArchiveImpl) ArchiveTicks(ctx context.Context, before int64) (int64, error) {
	ticks, err := a.ticks.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks query: %w", err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(ticks)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks marshal: %w", err)
	}

	path := archivePath("ticks", before)
	if int64(len(buf)) >= a.multipartAt {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks upload: %w", err)
	}

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive ticks verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive ticks verify: object %s missing after upload", path)
		}
	}

	return int64(len(ticks)), nil
}

// RestoreTicks reads every archive object under the given prefix, decodes the
// JSONL records, and batch-inserts the ticks back into the hot store. It
// returns the number of ticks restored. Pass "archive/ticks/2025-01/" to
// restore one month, or "archive/ticks/" for everything.
//
// Restored ticks get fresh arrival sequence numbers, so restoring the same
// archive twice duplicates rows; the aggregator's merge tolerates that.
func (a *ArchiveImpl) RestoreTicks(ctx context.Context, prefix string) (int64, error) {
	if a.reader == nil {
		return 0, fmt.Errorf("s3blob: restore ticks: no reader configured")
	}

	objects, err := a.reader.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("s3blob: restore ticks list %s: %w", prefix, err)
	}

	var restored int64
	for _, obj := range objects {
		ticks, err := a.readArchiveObject(ctx, obj.Path)
		if err != nil {
			return restored, err
		}
		if len(ticks) == 0 {
			continue
		}
		if err := a.ticks.InsertBatch(ctx, ticks); err != nil {
			return restored, fmt.Errorf("s3blob: restore ticks insert %s: %w", obj.Path, err)
		}
		restored += int64(len(ticks))
	}
	return restored, nil
}

// readArchiveObject fetches one archive object and decodes its JSONL lines.
func (a *ArchiveImpl) readArchiveObject(ctx context.Context, path string) ([]domain.Tick, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: restore ticks get %s: %w", path, err)
	}
	defer body.Close()

	var ticks []domain.Tick
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec tickRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("s3blob: restore ticks decode %s line %d: %w", path, line, err)
		}
		ticks = append(ticks, rec.toTick())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: restore ticks read %s: %w", path, err)
	}
	return ticks, nil
}

// toTick converts an archived record back to a domain tick. The stored Seq is
// dropped: the hot store assigns a fresh arrival sequence on insert.
func (r tickRecord) toTick() domain.Tick {
	t := domain.Tick{
		Instrument:    r.Instrument,
		Exchange:      r.Exchange,
		Price:         r.Price,
		Timestamp:     r.Timestamp,
		ChangePercent: r.ChangePercent,
		Volume:        r.Volume,
		DayVolume:     r.DayVolume,
		Change:        r.Change,
		PriceHint:     r.PriceHint,
	}
	if r.Session != nil {
		if s, ok := domain.ParseMarketSession(*r.Session); ok {
			t.Session = &s
		}
	}
	return t
}

// archivePath builds the S3 key for an archive file. Objects are partitioned
// by the year-month of the cutoff and named after the cutoff itself so every
// run gets a distinct key.
//
//	archive/ticks/2025-01/1736467200.jsonl
func archivePath(kind string, before int64) string {
	month := time.Unix(before, 0).UTC().Format("2006-01")
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, month, before)
}

// marshalJSONL serialises ticks as newline-delimited JSON, one compact JSON
// object per line.
func marshalJSONL(ticks []domain.Tick) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, t := range ticks {
		rec := tickRecord{
			Seq:           t.Seq,
			Instrument:    t.Instrument,
			Exchange:      t.Exchange,
			Price:         t.Price,
			Timestamp:     t.Timestamp,
			ChangePercent: t.ChangePercent,
			Volume:        t.Volume,
			DayVolume:     t.DayVolume,
			Change:        t.Change,
			PriceHint:     t.PriceHint,
		}
		if t.Session != nil {
			s := t.Session.String()
			rec.Session = &s
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
