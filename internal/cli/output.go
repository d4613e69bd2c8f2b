package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: таблицей для человека
// или JSON для скриптов (--json). Данные идут в stdout,
// служебные сообщения — в stderr, чтобы не ломать пайпы.
type Output struct {
	jsonMode bool
	data     io.Writer
	messages io.Writer
}

// NewOutput создаёт Output.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		data:     os.Stdout,
		messages: os.Stderr,
	}
}

// Print выводит результат в активном формате.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.printJSON(jsonData)
		return
	}
	o.printTable(headers, rows)
}

// Success выводит сообщение об успехе операции.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.messages, msg)
}

// printTable выравнивает колонки через tabwriter и подчёркивает
// заголовки строкой дефисов.
func (o *Output) printTable(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(underline, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// printJSON выводит данные с отступами.
func (o *Output) printJSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
