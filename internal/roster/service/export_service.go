package service

import (
	"context"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ExportService 名册成本明细导出
type ExportService struct {
	*engine
}

// BreakdownRow 成本明细行；ItemID 为空表示成员基础成本行
type BreakdownRow struct {
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
	ItemID     string `json:"item_id,omitempty"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	BasePrice  int    `json:"base_price"`
	Extras     int    `json:"extras"`
	Total      int    `json:"total"`
	Cached     int    `json:"cached"`
	Dirty      bool   `json:"dirty"`
	Stash      bool   `json:"stash"`
	Archived   bool   `json:"archived"`
}

// Breakdown 名册成本明细（只读，按实时目录计算）
type Breakdown struct {
	Roster *entity.Roster `json:"roster"`
	Rows   []BreakdownRow `json:"rows"`
	Rating int            `json:"rating"`
	Stash  int            `json:"stash"`
}

// Breakdown 逐成员、逐行项计算，并附带解析来源
func (s *ExportService) Breakdown(ctx context.Context, rosterID string) (*Breakdown, error) {
	r, err := s.repos.Roster.LoadTree(ctx, rosterID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	res := pricing.NewResolver(pricing.Memoize(s.repos.Catalogue))
	calc := calculator{res: res}
	rc, err := calc.roster(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("compute roster: %w", err)
	}

	out := &Breakdown{Roster: r, Rating: rc.Rating, Stash: rc.Stash}
	for i := range r.Members {
		m := &r.Members[i]
		mc := rc.Members[m.ID]
		oc := ownerContext(r, m)

		source := "-"
		switch {
		case m.CostOverride != nil:
			source = pricing.PrecedenceManual.String()
		case m.IsLinked() || m.IsStash:
		default:
			resolved, err := res.Resolve(ctx, pricing.Ref{Kind: pricing.KindFighter, ID: m.FighterTypeID}, oc, nil)
			if err != nil {
				return nil, err
			}
			source = resolved.Source.String()
		}
		name := m.FighterTypeID
		if m.FighterType != nil {
			name = m.FighterType.Name
		}
		out.Rows = append(out.Rows, BreakdownRow{
			MemberID:   m.ID,
			MemberName: m.Name,
			Name:       name,
			Source:     source,
			BasePrice:  mc.Base,
			Extras:     mc.Advancements,
			Total:      mc.Rating,
			Cached:     m.RatingCurrent,
			Dirty:      m.Dirty,
			Stash:      m.IsStash,
			Archived:   !m.IsActive(),
		})

		for j := range m.LineItems {
			item := &m.LineItems[j]
			row := BreakdownRow{
				MemberID:   m.ID,
				MemberName: m.Name,
				ItemID:     item.ID,
				Name:       item.EquipmentID,
				Total:      mc.Items[item.ID],
				Cached:     item.RatingCurrent,
				Dirty:      item.Dirty,
				Stash:      m.IsStash,
				Archived:   !m.IsActive(),
			}
			if item.Equipment != nil {
				row.Name = item.Equipment.Name
			}
			switch {
			case item.IsZeroCost():
				row.Source = "linked"
				if item.FromDefault {
					row.Source = "default_equipment"
				}
			case item.TotalCostOverride != nil:
				row.Source = "total_override"
				row.BasePrice = *item.TotalCostOverride
			default:
				resolved, err := res.Resolve(ctx, pricing.Ref{Kind: pricing.KindEquipment, ID: item.EquipmentID}, oc, item.CostOverride)
				if err != nil {
					return nil, err
				}
				row.Source = resolved.Source.String()
				row.BasePrice = resolved.Price
				row.Extras = row.Total - resolved.Price
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

var breakdownHeaders = []string{
	"成员", "名称", "价格来源", "基础价", "附加", "小计", "缓存值", "待重算", "备注",
}

// ExportXLSX 导出名册成本明细为 xlsx
func (s *ExportService) ExportXLSX(ctx context.Context, rosterID string) (*excelize.File, string, error) {
	b, err := s.Breakdown(ctx, rosterID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Rating"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range breakdownHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for idx, row := range b.Rows {
		n := idx + 2
		member := row.MemberName
		if row.ItemID != "" {
			member = ""
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", n), member)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", n), row.Name)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", n), row.Source)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", n), row.BasePrice)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", n), row.Extras)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", n), row.Total)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", n), row.Cached)
		dirty := ""
		if row.Dirty {
			dirty = "是"
		}
		f.SetCellValue(sheet, fmt.Sprintf("H%d", n), dirty)
		var note string
		switch {
		case row.Archived:
			note = "已归档"
		case row.Stash:
			note = "仓库"
		}
		f.SetCellValue(sheet, fmt.Sprintf("I%d", n), note)
	}

	// 汇总
	p := message.NewPrinter(language.English)
	summaryRow := len(b.Rows) + 3
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	summary := [][2]string{
		{"Rating", p.Sprintf("%d¢", b.Rating)},
		{"Stash", p.Sprintf("%d¢", b.Stash)},
		{"Credits", p.Sprintf("%d¢", b.Roster.CurrencyCurrent)},
		{"Wealth", p.Sprintf("%d¢", b.Rating+b.Stash+b.Roster.CurrencyCurrent)},
	}
	for i, kv := range summary {
		n := summaryRow + i
		f.SetCellValue(sheet, fmt.Sprintf("A%d", n), kv[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", n), kv[1])
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", n), fmt.Sprintf("B%d", n), summaryStyle)
	}

	colWidths := []float64{18, 24, 12, 10, 10, 10, 10, 8, 10}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("roster_%s.xlsx", b.Roster.Name)
	return f, filename, nil
}

// FormatCredits 千分位货币显示，如 1,250¢
func FormatCredits(amount int) string {
	return message.NewPrinter(language.English).Sprintf("%d¢", amount)
}
