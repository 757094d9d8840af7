package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/groupdesk/internal/pipeline"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// Human-facing messages go to errOut; stdout carries data only.
var (
	errOut io.Writer = os.Stderr
	out    io.Writer = os.Stdout
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printLine(color, mark, format string, args ...any) {
	fmt.Fprintln(errOut, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printLine(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printLine(colorYellow, "⚠", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(errOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult summarizes a pipeline result for a person, then writes the
// full result as JSON.
func printResult(res pipeline.Result) error {
	switch res.Status {
	case "SAVED":
		printSuccess("Draft %s saved", res.DraftID)
		switch {
		case res.OrderID != "":
			printSuccess("Order %s created", res.OrderID)
		case res.OrderMessage != "":
			printWarning("%s", res.OrderMessage)
		}
	case "NEEDS_INFO":
		printWarning("Missing: %s", strings.Join(res.Missing, ", "))
		if res.Reply != "" {
			printStatus("Reply", "%s", res.Reply)
		}
	default:
		printStatus("Outcome", "%s", res.Status)
	}
	return printJSON(res)
}
