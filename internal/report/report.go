// Package report exports a learner's scores as an XLSX workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/edutara/edutara/internal/learning"
)

// Sheet names.
const (
	ScoresSheet  = "Scores"
	SummarySheet = "Summary"
)

const timeLayout = "2006-01-02 15:04"

var scoreHeader = []any{
	"Completed", "Subject", "Grade", "Module", "Module ID",
	"Score", "Max Score", "Percentage", "Attempts", "Time (s)", "Chapter",
}

// WriteScores writes records (one row each, in the given order) and the
// stats summary to w.
func WriteScores(w io.Writer, records []learning.ScoreRecord, stats learning.AggregateStats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ScoresSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeScores(f, records); err != nil {
		return err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	if err := writeSummary(f, stats); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeScores(f *excelize.File, records []learning.ScoreRecord) error {
	title := cases.Title(language.English)

	if err := setRow(f, ScoresSheet, 1, scoreHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetRowStyle(ScoresSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range records {
		chapter := r.Metadata.ChapterName
		if chapter == "" {
			chapter = r.Metadata.ChapterID
		}
		row := []any{
			r.CompletedAt.UTC().Format(timeLayout),
			title.String(string(r.Subject)),
			r.Grade,
			title.String(string(r.ModuleType)),
			r.ModuleID,
			r.Score,
			r.MaxScore,
			r.Percentage,
			r.Attempts,
			r.TimeTaken,
			chapter,
		}
		if err := setRow(f, ScoresSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(ScoresSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, stats learning.AggregateStats) error {
	title := cases.Title(language.English)

	rows := [][]any{
		{"Total Scores", stats.TotalScores},
		{"Average Percentage", stats.AveragePercentage},
		{"Best Score", stats.BestScore},
		{"Total Time (s)", stats.TotalTime},
		{},
		{"Subject", "Scores", "Average", "Best"},
	}
	for _, s := range learning.Subjects {
		sum := stats.Subjects[s]
		rows = append(rows, []any{title.String(string(s)), sum.Scores, sum.Average, sum.Best})
	}
	rows = append(rows, []any{}, []any{"Grade", "Scores", "Average", "Best"})
	for g := learning.MinGrade; g <= learning.MaxGrade; g++ {
		gs, ok := stats.Grades[g]
		if !ok {
			continue
		}
		rows = append(rows, []any{fmt.Sprintf("Grade %d", g), gs.Scores, gs.Average, gs.Best})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if err := setRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
