package httpapi

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/types"
)

func recordView(rec store.AccessRecord, now time.Time) types.Record {
	v := types.Record{
		ID:          rec.ID,
		Plate:       rec.Plate,
		Token:       rec.Token,
		Status:      rec.Status.String(),
		TimeIn:      rec.TimeIn.UTC().Format(time.RFC3339),
		TimeInAgo:   humanize.RelTime(rec.TimeIn, now, "ago", "from now"),
		ImageRefIn:  rec.ImageRefIn,
		ImageRefOut: rec.ImageRefOut,
		Synced:      rec.Synced,
	}
	if rec.TimeOut != nil {
		v.TimeOut = rec.TimeOut.UTC().Format(time.RFC3339)
		v.TimeOutAgo = humanize.RelTime(*rec.TimeOut, now, "ago", "from now")
		v.Duration = rec.TimeOut.Sub(rec.TimeIn).Round(time.Second).String()
	} else if rec.Status == store.StatusInside {
		v.Duration = now.Sub(rec.TimeIn).Round(time.Second).String()
	}
	return v
}

func recordViews(recs []store.AccessRecord, now time.Time) []types.Record {
	out := make([]types.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView(rec, now))
	}
	return out
}

func historyResponse(p store.HistoryPage, search string, now time.Time) types.HistoryResponse {
	return types.HistoryResponse{
		Records:    recordViews(p.Records, now),
		Search:     search,
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}
