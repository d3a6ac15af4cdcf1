package scraper

import (
	"math"

	"spotfinder/models"
)

// DefaultDedupeGrid is the coordinate granularity in pixels below which two
// records with the same normalized title are considered the same tile
const DefaultDedupeGrid = 10.0

// DedupeRecords drops records that repeat an already kept record: same normalized title
// and a position less than one grid step away on both axes. Order is preserved and the
// first occurrence wins.
//
// Layout re-measurement can shift a tile by a few pixels between passes; the title keeps
// distinct products that overlap during virtualized rendering apart. Positions are compared
// by distance rather than by rounded bucket so that jitter across a bucket edge
// (x=104 vs x=106) still collapses.
func DedupeRecords(records []models.ProductRecord, grid float64) []models.ProductRecord {
	if grid <= 0 {
		grid = DefaultDedupeGrid
	}

	kept := make(map[string][]models.Point, len(records))
	out := make([]models.ProductRecord, 0, len(records))
	for _, rec := range records {
		title := NormalizeTitle(rec.Title)
		if nearAny(kept[title], rec.Position, grid) {
			continue
		}
		kept[title] = append(kept[title], rec.Position)
		out = append(out, rec)
	}
	return out
}

func nearAny(points []models.Point, p models.Point, grid float64) bool {
	for _, q := range points {
		if math.Abs(q.X-p.X) < grid && math.Abs(q.Y-p.Y) < grid {
			return true
		}
	}
	return false
}

// AssignRanks numbers records 1..n in their current order
func AssignRanks(records []models.ProductRecord) {
	for i := range records {
		records[i].Rank = i + 1
	}
}
