package ui

import (
	"fmt"
	"time"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed after the call UI exits.
type CallSummary struct {
	Room     string
	Duration time.Duration
	Peers    int
	Retries  int
	Errors   int
	Ended    string
}

func CallSummaryView(s CallSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle(IconBook + " Call Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", s.Room},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Classmates reached", s.Peers},
		{"Retries", s.Retries},
		{"Errors", s.Errors},
		{"Ended", s.Ended},
	})
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Colors = text.Colors{text.Bold, text.FgHiGreen}
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiGreen}
	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println()
	fmt.Println(CallSummaryView(s))
}
