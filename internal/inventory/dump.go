package inventory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/git-pkgs/wheelodex/client"
	"github.com/git-pkgs/wheelodex/internal/inspect"
)

// Record is the line-delimited JSON form of a wheel used by Dump and Load.
type Record struct {
	PyPI      RecordPyPI      `json:"pypi"`
	Data      json.RawMessage `json:"data"`
	Wheelodex *RecordMeta     `json:"wheelodex"`
	Errored   bool            `json:"errored"`
}

// RecordPyPI holds the index-reported attributes of a dumped wheel.
type RecordPyPI struct {
	Filename string    `json:"filename"`
	URL      string    `json:"url"`
	Project  string    `json:"project"`
	Version  string    `json:"version"`
	Size     int64     `json:"size"`
	MD5      *string   `json:"md5"`
	SHA256   *string   `json:"sha256"`
	Uploaded time.Time `json:"uploaded"`
	PURL     string    `json:"purl,omitempty"`
}

// RecordMeta describes when and by what the data was produced.
type RecordMeta struct {
	Processed           time.Time `json:"processed"`
	WheelInspectVersion string    `json:"wheel_inspect_version"`
}

func recordOf(w *Wheel) Record {
	r := Record{
		PyPI: RecordPyPI{
			Filename: w.Filename,
			URL:      w.URL,
			Size:     w.Size,
			MD5:      w.MD5,
			SHA256:   w.SHA256,
			Uploaded: w.Uploaded.UTC(),
		},
		Errored: len(w.Errors) > 0,
	}
	if w.Version != nil {
		r.PyPI.Version = w.Version.DisplayName
		if p := w.Project(); p != nil {
			r.PyPI.Project = p.DisplayName
			r.PyPI.PURL = client.PURL(p.Name, w.Version.DisplayName)
		}
	}
	if w.Data != nil {
		r.Data = json.RawMessage(w.Data.RawData)
		r.Wheelodex = &RecordMeta{
			Processed:           w.Data.Processed.UTC(),
			WheelInspectVersion: w.Data.WheelInspectVersion,
		}
	}
	return r
}

// Dump writes one JSON record per wheel to w. Unless all is set only wheels
// with data are written. It returns the number of records written.
func (inv *Inventory) Dump(ctx context.Context, w io.Writer, all bool) (int, error) {
	q := inv.db.WithContext(ctx).
		Preload("Version.Project").
		Preload("Data").
		Preload("Errors", func(db *gorm.DB) *gorm.DB { return db.Select("id", "wheel_id") })
	if !all {
		q = q.Where("EXISTS (?)", inv.db.Model(&WheelData{}).Select("1").Where("wheel_data.wheel_id = wheels.id"))
	}

	enc := json.NewEncoder(w)
	written := 0
	var batch []Wheel
	res := q.FindInBatches(&batch, 100, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := enc.Encode(recordOf(&batch[i])); err != nil {
				return fmt.Errorf("writing record for %s: %w", batch[i].Filename, err)
			}
			written++
		}
		return nil
	})
	if res.Error != nil {
		return written, wrapErrorWithDetails(res.Error, "dump", fmt.Sprintf("after %d records", written))
	}
	return written, nil
}

// Load reads records as written by Dump and adds their wheels. Wheels that
// already have data keep it. Each record is committed on its own. It returns
// the number of records read.
func (inv *Inventory) Load(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024*1024)

	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return n, &BadInputError{Reason: fmt.Sprintf("record %d: %v", n+1, err)}
		}
		if err := inv.LoadRecord(ctx, &rec); err != nil {
			return n, fmt.Errorf("record %d (%s): %w", n+1, rec.PyPI.Filename, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("reading records: %w", err)
	}
	return n, nil
}

// LoadRecord adds a single dumped wheel.
func (inv *Inventory) LoadRecord(ctx context.Context, rec *Record) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		p, err := ensureProject(tx, rec.PyPI.Project)
		if err != nil {
			return err
		}
		v, err := ensureVersion(tx, p, rec.PyPI.Version)
		if err != nil {
			return err
		}
		attrs := WheelAttrs{
			Filename: rec.PyPI.Filename,
			URL:      rec.PyPI.URL,
			Size:     rec.PyPI.Size,
			Uploaded: rec.PyPI.Uploaded,
		}
		if rec.PyPI.MD5 != nil {
			attrs.MD5 = *rec.PyPI.MD5
		}
		if rec.PyPI.SHA256 != nil {
			attrs.SHA256 = *rec.PyPI.SHA256
		}
		w, err := ensureWheel(tx, v, attrs)
		if err != nil {
			return err
		}

		if len(rec.Data) == 0 || bytes.Equal(rec.Data, []byte("null")) {
			return nil
		}
		var existing int64
		if err := tx.Model(&WheelData{}).Where("wheel_id = ?", w.ID).Count(&existing).Error; err != nil {
			return wrapErrorWithDetails(err, "load record", "filename="+w.Filename)
		}
		if existing > 0 {
			return nil
		}

		m, err := inspect.Parse(rec.Data)
		if err != nil {
			return &BadInputError{Reason: fmt.Sprintf("data of %s: %v", w.Filename, err)}
		}
		processed, version := inv.now().UTC(), ""
		if rec.Wheelodex != nil {
			processed, version = rec.Wheelodex.Processed.UTC(), rec.Wheelodex.WheelInspectVersion
		}
		return setData(tx, w, m, version, processed)
	})
}
