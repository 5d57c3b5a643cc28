// Package csvapp converts delimited text into JSON records.
package csvapp

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const AppID = "csv"

func New() *plugin.App {
	return &plugin.App{
		ID:          AppID,
		Name:        "CSV",
		Description: "Work with comma and tab separated text.",
		Actions:     []plugin.Action{NewConvertToJSON()},
	}
}

type convertConfig struct {
	CSV        string `json:"csv"`
	Delimiter  string `json:"delimiter"`
	HasHeaders bool   `json:"hasHeaders"`
}

type ConvertToJSON struct{ appkit.Node }

func NewConvertToJSON() *ConvertToJSON {
	return &ConvertToJSON{appkit.Node{
		Desc: plugin.Descriptor{
			ID:          "csv_action_convert-csv-to-json",
			Name:        "Convert CSV to JSON",
			Description: "Converts CSV text into a list of JSON objects.",
		},
		Fields: schema.Schema{
			{
				ID:          "csv",
				Label:       "CSV Text",
				Description: "Comma separated list in text format",
				InputType:   schema.InputText,
				Required:    appkit.Required("CSV is required"),
			},
			{
				ID:          "delimiter",
				Label:       "Delimiter",
				Description: "The delimiter type for the CSV Text",
				InputType:   schema.InputSelect,
				SelectOptions: []schema.Option{
					{Value: "comma", Label: "Comma"},
					{Value: "tab", Label: "Tab"},
				},
				Required: appkit.Required("Delimiter type is required"),
			},
			{
				ID:            "hasHeaders",
				Label:         "CSV has header row?",
				InputType:     schema.InputSwitch,
				SwitchOptions: &schema.SwitchOptions{Checked: "true", Unchecked: "false"},
			},
		},
	}}
}

func (a *ConvertToJSON) Run(_ context.Context, args plugin.RunArgs) (any, error) {
	var cfg convertConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	comma := ','
	if cfg.Delimiter == "tab" {
		comma = '\t'
	}
	rows, err := Convert(cfg.CSV, comma, cfg.HasHeaders)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": rows}, nil
}

func (a *ConvertToJSON) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{"result": []map[string]any{}}, nil
}

// Convert parses text into one object per record. Without a header row the
// columns are named "1", "2", ... Short records leave trailing keys nil.
func Convert(text string, comma rune, hasHeaders bool) ([]map[string]any, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		headers []string
		out     = []map[string]any{}
	)
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parsing csv: %w", err)
		}
		if headers == nil {
			if hasHeaders {
				headers = rec
				continue
			}
			headers = make([]string, len(rec))
			for i := range rec {
				headers[i] = strconv.Itoa(i + 1)
			}
		}
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = nil
			}
		}
		out = append(out, row)
	}
}
