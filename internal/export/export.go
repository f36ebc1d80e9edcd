package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"
	"talent-radar/internal/matching"
	"talent-radar/internal/model"
	"talent-radar/internal/storage"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	SheetRanking    = "Ranking"
	SheetStatements = "Statements"
)

var (
	rankingHeaders   = []any{"Rank", "Candidate", "Email", "Match %", "Bucket", "Overall Fit"}
	statementHeaders = []any{"Candidate", "Requirement", "Weight", "Fit", "Score", "Explanation"}
)

// Store 导出所需的读取接口。
type Store interface {
	GetPosting(ctx context.Context, id uint) (*model.Posting, error)
	ListCandidates(ctx context.Context, postingID uint) ([]model.Candidate, error)
	ListRequirements(ctx context.Context, postingID uint) ([]model.Requirement, error)
	ListMatchStatements(ctx context.Context, candidateID uint) ([]model.MatchStatement, error)
}

// Exporter 生成职位候选人排名表。
type Exporter struct {
	store  Store
	logger *zap.Logger
}

func NewExporter(store Store, log *zap.Logger) *Exporter {
	return &Exporter{store: store, logger: logger.OrNop(log)}
}

// Workbook 构建包含 Ranking 与 Statements 两个工作表的文件，排名按匹配度倒序。
func (e *Exporter) Workbook(ctx context.Context, postingID uint) (*excelize.File, error) {
	const op = "export.workbook"
	start := time.Now()

	if _, err := e.store.GetPosting(ctx, postingID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, op, err)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	cands, err := e.store.ListCandidates(ctx, postingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	reqs, err := e.store.ListRequirements(ctx, postingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	byID := make(map[uint]model.Requirement, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].MatchPercentage != cands[j].MatchPercentage {
			return cands[i].MatchPercentage > cands[j].MatchPercentage
		}
		return cands[i].ID < cands[j].ID
	})

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRanking); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetStatements); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeRow(f, SheetRanking, 1, rankingHeaders); err != nil {
		return nil, err
	}
	if err := writeRow(f, SheetStatements, 1, statementHeaders); err != nil {
		return nil, err
	}
	_ = f.SetRowStyle(SheetRanking, 1, 1, bold)
	_ = f.SetRowStyle(SheetStatements, 1, 1, bold)

	stmtRow := 2
	for i, c := range cands {
		bucket := ""
		if c.MatchedAt != nil {
			bucket = matching.Bucket(c.MatchPercentage)
		}
		row := []any{i + 1, displayName(c), c.Email, round2(c.MatchPercentage), bucket, c.OverallFit}
		if err := writeRow(f, SheetRanking, i+2, row); err != nil {
			return nil, err
		}

		stmts, err := e.store.ListMatchStatements(ctx, c.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, op, err)
		}
		for _, s := range stmts {
			req, ok := byID[s.RequirementID]
			if !ok {
				continue
			}
			row := []any{displayName(c), req.Text, req.Weight, s.Fit, s.Score, s.Explanation}
			if err := writeRow(f, SheetStatements, stmtRow, row); err != nil {
				return nil, err
			}
			stmtRow++
		}
	}

	_ = f.SetColWidth(SheetRanking, "A", "A", 6)
	_ = f.SetColWidth(SheetRanking, "B", "C", 28)
	_ = f.SetColWidth(SheetRanking, "D", "E", 14)
	_ = f.SetColWidth(SheetRanking, "F", "F", 60)
	_ = f.SetColWidth(SheetStatements, "A", "A", 28)
	_ = f.SetColWidth(SheetStatements, "B", "B", 48)
	_ = f.SetColWidth(SheetStatements, "C", "E", 10)
	_ = f.SetColWidth(SheetStatements, "F", "F", 60)

	e.logger.Info("export built",
		zap.Uint("posting_id", postingID),
		zap.Int("candidates", len(cands)),
		zap.Int("statements", stmtRow-2),
		zap.Duration("elapsed", time.Since(start)))
	return f, nil
}

// Write 将工作簿写入 w。
func (e *Exporter) Write(ctx context.Context, postingID uint, w io.Writer) error {
	f, err := e.Workbook(ctx, postingID)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func displayName(c model.Candidate) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Title
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
