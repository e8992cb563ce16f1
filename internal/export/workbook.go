package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// ReviewSheet is the worksheet holding open duplicate groups.
const ReviewSheet = "Dup Review"

var reviewHeader = []interface{}{
	"Decision", "Reason", "GroupID", "GroupCount", "Score", "GroupReason",
	"ID", "Date", "Time", "Description", "Amount", "Account", "Source",
	"TxnId", "Reference", "Balance", "ContentHash",
}

const (
	colDecision = 0
	colReason   = 1
	colGroupID  = 2
	colID       = 6
)

// Reviewer decisions accepted in the Decision column.
const (
	MarkKeep   = "keep"
	MarkDelete = "delete"
	MarkIgnore = "ignore"
	MarkMerge  = "merge"
)

// WriteReviewWorkbook writes one row per member of every pending group,
// larger groups first, with empty Decision and Reason columns to fill in.
func WriteReviewWorkbook(w io.Writer, groups []domain.PendingGroup) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(ReviewSheet)
	if err != nil {
		return fmt.Errorf("WriteReviewWorkbook: new sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("WriteReviewWorkbook: removing default sheet: %w", err)
	}

	if err := f.SetSheetRow(ReviewSheet, "A1", &reviewHeader); err != nil {
		return fmt.Errorf("WriteReviewWorkbook: header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("WriteReviewWorkbook: style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(reviewHeader), 1)
	if err := f.SetCellStyle(ReviewSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("WriteReviewWorkbook: header style: %w", err)
	}
	if err := f.SetPanes(ReviewSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("WriteReviewWorkbook: panes: %w", err)
	}

	sorted := make([]domain.PendingGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Transactions) != len(sorted[j].Transactions) {
			return len(sorted[i].Transactions) > len(sorted[j].Transactions)
		}
		return sorted[i].Group.GroupID < sorted[j].Group.GroupID
	})

	row := 2
	for _, pg := range sorted {
		for _, t := range pg.Transactions {
			values := []interface{}{
				"", "",
				pg.Group.GroupID,
				len(pg.Transactions),
				pg.Group.SimilarityScore,
				pg.Group.Reason,
				t.ID,
				t.Date.String(),
				t.TimePart,
				t.Description,
				t.Amount.InexactFloat64(),
				t.Account,
				t.Source,
				t.TxnID,
				t.Reference,
				balanceCell(t),
				t.ContentHash,
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(ReviewSheet, cell, &values); err != nil {
				return fmt.Errorf("WriteReviewWorkbook: row %d: %w", row, err)
			}
			row++
		}
	}

	_ = f.SetColWidth(ReviewSheet, "C", "C", 38)
	_ = f.SetColWidth(ReviewSheet, "J", "J", 48)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("WriteReviewWorkbook: write: %w", err)
	}
	return nil
}

func balanceCell(t *domain.Transaction) interface{} {
	if !t.Balance.Valid {
		return ""
	}
	return t.Balance.Decimal.InexactFloat64()
}

// WorkbookDecisions is the outcome of reading a filled-in review workbook.
type WorkbookDecisions struct {
	Decisions map[string]domain.Decision
	// Skipped maps group id to why no decision could be derived.
	Skipped map[string]string
}

type markedRow struct {
	id     int64
	mark   string
	reason string
}

// ReadReviewWorkbook derives one decision per group from the Decision
// column. Per group: every row "keep" means keep_both; exactly one row not
// marked "delete" with the rest "delete" means delete_duplicate keeping that
// row; every row "ignore" or "merge" means that action. Groups with blank
// or mixed marks are skipped.
func ReadReviewWorkbook(r io.Reader) (*WorkbookDecisions, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ReadReviewWorkbook: open: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(ReviewSheet)
	if err != nil {
		return nil, fmt.Errorf("ReadReviewWorkbook: reading %q: %w", ReviewSheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ReadReviewWorkbook: sheet %q is empty", ReviewSheet)
	}
	if len(rows[0]) <= colID || rows[0][colDecision] != "Decision" || rows[0][colID] != "ID" {
		return nil, fmt.Errorf("ReadReviewWorkbook: unexpected header in %q", ReviewSheet)
	}

	byGroup := make(map[string][]markedRow)
	var order []string
	for i, cells := range rows[1:] {
		if len(cells) <= colID || strings.TrimSpace(cells[colGroupID]) == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(cells[colID]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ReadReviewWorkbook: row %d: bad ID %q", i+2, cells[colID])
		}
		gid := strings.TrimSpace(cells[colGroupID])
		if _, ok := byGroup[gid]; !ok {
			order = append(order, gid)
		}
		byGroup[gid] = append(byGroup[gid], markedRow{
			id:     id,
			mark:   strings.ToLower(strings.TrimSpace(cells[colDecision])),
			reason: strings.TrimSpace(cells[colReason]),
		})
	}

	out := &WorkbookDecisions{
		Decisions: make(map[string]domain.Decision),
		Skipped:   make(map[string]string),
	}
	for _, gid := range order {
		d, why := decide(byGroup[gid])
		if why != "" {
			out.Skipped[gid] = why
			continue
		}
		out.Decisions[gid] = d
	}
	return out, nil
}

func decide(rows []markedRow) (domain.Decision, string) {
	counts := make(map[string]int)
	var notes []string
	var keepID int64
	for _, r := range rows {
		counts[r.mark]++
		if r.reason != "" {
			notes = append(notes, r.reason)
		}
		if r.mark != MarkDelete {
			keepID = r.id
		}
	}
	d := domain.Decision{Notes: strings.Join(notes, "; ")}
	n := len(rows)

	switch {
	case counts[""] == n:
		return d, "no decision"
	case counts[MarkKeep] == n:
		d.Action = domain.ActionKeepBoth
	case counts[MarkIgnore] == n:
		d.Action = domain.ActionIgnore
	case counts[MarkMerge] == n:
		d.Action = domain.ActionMerge
	case counts[MarkDelete] == n-1 && counts[MarkDelete] > 0:
		d.Action = domain.ActionDeleteDuplicate
		d.KeepID = keepID
	case counts[MarkDelete] == n:
		return d, "every row marked delete"
	default:
		return d, "mixed decisions"
	}
	return d, ""
}
