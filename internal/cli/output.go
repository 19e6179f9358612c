package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// recordRow is the machine-readable shape of a ledger row.
type recordRow struct {
	ID          int64  `json:"id" yaml:"id"`
	Plate       string `json:"plate" yaml:"plate"`
	Token       string `json:"token" yaml:"token"`
	Status      string `json:"status" yaml:"status"`
	TimeIn      string `json:"time_in" yaml:"time_in"`
	TimeOut     string `json:"time_out,omitempty" yaml:"time_out,omitempty"`
	ImageRefIn  string `json:"image_in,omitempty" yaml:"image_in,omitempty"`
	ImageRefOut string `json:"image_out,omitempty" yaml:"image_out,omitempty"`
	Synced      bool   `json:"synced" yaml:"synced"`
}

func toRow(r store.AccessRecord) recordRow {
	row := recordRow{
		ID:          r.ID,
		Plate:       r.Plate,
		Token:       r.Token,
		Status:      r.Status.String(),
		TimeIn:      r.TimeIn.UTC().Format(time.RFC3339),
		ImageRefIn:  r.ImageRefIn,
		ImageRefOut: r.ImageRefOut,
		Synced:      r.Synced,
	}
	if r.TimeOut != nil {
		row.TimeOut = r.TimeOut.UTC().Format(time.RFC3339)
	}
	return row
}

func toRows(recs []store.AccessRecord) []recordRow {
	out := make([]recordRow, 0, len(recs))
	for _, r := range recs {
		out = append(out, toRow(r))
	}
	return out
}

// printer renders command results as text tables, JSON or YAML.
type printer struct {
	format string
	w      io.Writer
	now    time.Time
}

func newPrinter(opts *RootOptions, now time.Time) *printer {
	return &printer{format: opts.Format, w: opts.Stdout, now: now}
}

// structured writes v as JSON or YAML and reports whether it did.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func (p *printer) records(recs []store.AccessRecord) error {
	if ok, err := p.structured(toRows(recs)); ok {
		return err
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(p.w, "no records")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATE\tTOKEN\tSTATUS\tIN\tOUT\tSYNCED")
	for _, r := range recs {
		out := "-"
		if r.TimeOut != nil {
			out = humanize.RelTime(*r.TimeOut, p.now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			r.ID, r.Plate, r.Token, r.Status,
			humanize.RelTime(r.TimeIn, p.now, "ago", "from now"), out, r.Synced)
	}
	return tw.Flush()
}

type historyOutput struct {
	Records    []recordRow `json:"records" yaml:"records"`
	Page       int         `json:"page" yaml:"page"`
	TotalPages int         `json:"total_pages" yaml:"total_pages"`
	Total      int         `json:"total" yaml:"total"`
}

func (p *printer) history(page store.HistoryPage) error {
	if ok, err := p.structured(historyOutput{
		Records:    toRows(page.Records),
		Page:       page.Page,
		TotalPages: page.TotalPages,
		Total:      page.Total,
	}); ok {
		return err
	}
	if err := p.records(page.Records); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.w, "page %d of %d (%s records)\n",
		page.Page, max(page.TotalPages, 1), humanize.Comma(int64(page.Total)))
	return err
}

type messageOutput struct {
	OK      bool   `json:"ok" yaml:"ok"`
	Message string `json:"message" yaml:"message"`
}

func (p *printer) message(ok bool, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if handled, err := p.structured(messageOutput{OK: ok, Message: msg}); handled {
		return err
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}
