package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/pipeline"
	"github.com/wippyai/wasm-contract/profile"
)

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	help  lipgloss.Style
}

// newStyles returns the report styles; without color every style renders
// plain text.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		help:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

type callData struct {
	call string
	data []byte
}

func printReport(w io.Writer, res *pipeline.Result, written []string, calls []callData, st styles) {
	doc := res.Bundle.Document()
	row := func(label, format string, args ...any) {
		fmt.Fprintf(w, "%s %s\n", st.label.Render(fmt.Sprintf("%-10s", label)), st.value.Render(fmt.Sprintf(format, args...)))
	}

	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("%s %s", doc.Contract.Name, doc.Contract.Version)))
	row("hash", "%s", doc.Source.Hash)
	row("size", "%d -> %d bytes (stripped %d)", res.SizeInput, res.SizeFinal, res.SizeStripped)
	if res.Stats.Removed() {
		row("removed", "%d functions, %d globals, %d exports, %d custom sections",
			res.Stats.Functions, res.Stats.Globals, res.Stats.Exports, res.Stats.CustomSections)
	}
	if res.Optimized {
		row("optimizer", "%s", st.ok.Render("accepted"))
	}
	for _, warn := range res.Warnings {
		row("optimizer", "%s", st.warn.Render(fmt.Sprintf("skipped (%s): %v", warn.Kind(), warn.Err)))
	}
	for _, e := range doc.Spec.Constructors {
		row("deploy", "%s %s", e.Selector, e.Signature())
	}
	for _, e := range doc.Spec.Messages {
		row("message", "%s %s", e.Selector, e.Signature())
	}
	for _, c := range calls {
		row("call", "%s = 0x%x", c.call, c.data)
	}
	for _, path := range written {
		row("wrote", "%s", path)
	}
}

// printViolations lists each profile violation of a validation failure.
func printViolations(w io.Writer, err error, st styles) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return
	}
	report, ok := e.Value.(profile.Report)
	if !ok {
		return
	}
	for _, v := range report.Violations() {
		fmt.Fprintf(w, "  %s %s\n", st.err.Render(string(v.Kind)), st.help.Render(v.String()))
	}
}
