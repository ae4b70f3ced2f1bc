package cli

import (
	"fmt"
	"io"

	"ppmt-amp-api/internal/model"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderItems(w io.Writer, items []model.Item) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Series", "Product", "Name", "Character", "Rarity", "Retail", "Market", "Change"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Retail", Align: text.AlignRight},
		{Name: "Market", Align: text.AlignRight},
		{Name: "Change", Align: text.AlignRight},
	})

	for _, it := range items {
		t.AppendRow(table.Row{
			it.SeriesID,
			it.ProductID,
			it.ProductName,
			it.IPCharacter,
			string(it.Rarity),
			it.RetailPrice.StringFixed(2) + " " + it.Currency,
			it.AfterMarketPrice.StringFixed(2) + " " + it.Currency,
			it.PriceChangePercent.StringFixed(2) + "%",
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", fmt.Sprintf("%d items", len(items))})
	t.Render()
}

func renderSeries(w io.Writer, series []model.Series) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Series", "Name", "Character", "Released", "Items", "Retail"})

	for _, s := range series {
		t.AppendRow(table.Row{
			s.SeriesID,
			s.SeriesName,
			s.IPCharacter,
			s.ReleaseDate,
			s.TotalItems,
			s.RetailPrice.StringFixed(2) + " " + s.Currency,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d series", len(series))})
	t.Render()
}
