package credits

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	thousand = decimal.NewFromInt(1000)
	sixty    = decimal.NewFromInt(60)
)

// Usage is what a provider reports for one call.
type Usage struct {
	InputTokens     int64   `json:"inputTokens,omitempty"`
	OutputTokens    int64   `json:"outputTokens,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// Rate prices one provider model in credits.
type Rate struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
	PerMinute   decimal.Decimal
}

// RateTable maps provider -> model -> rate.
type RateTable map[string]map[string]Rate

type rateFile struct {
	Providers map[string]map[string]rateYAML `yaml:"providers"`
}

type rateYAML struct {
	InputPer1K  string `yaml:"input_per_1k"`
	OutputPer1K string `yaml:"output_per_1k"`
	PerMinute   string `yaml:"per_minute"`
}

// LoadRateTable reads a YAML rate file:
//
//	providers:
//	  openai:
//	    gpt-4o-mini: {input_per_1k: "0.15", output_per_1k: "0.6"}
func LoadRateTable(path string) (RateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate table: %w", err)
	}
	return ParseRateTable(data)
}

func ParseRateTable(data []byte) (RateTable, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rate table: %w", err)
	}
	t := make(RateTable, len(f.Providers))
	for provider, models := range f.Providers {
		t[provider] = make(map[string]Rate, len(models))
		for model, r := range models {
			rate, err := r.rate()
			if err != nil {
				return nil, fmt.Errorf("rate %s/%s: %w", provider, model, err)
			}
			t[provider][model] = rate
		}
	}
	return t, nil
}

func (r rateYAML) rate() (Rate, error) {
	var out Rate
	for _, f := range []struct {
		s   string
		dst *decimal.Decimal
	}{
		{r.InputPer1K, &out.InputPer1K},
		{r.OutputPer1K, &out.OutputPer1K},
		{r.PerMinute, &out.PerMinute},
	} {
		if f.s == "" {
			continue
		}
		d, err := decimal.NewFromString(f.s)
		if err != nil {
			return Rate{}, err
		}
		if d.IsNegative() {
			return Rate{}, fmt.Errorf("negative rate %s", f.s)
		}
		*f.dst = d
	}
	return out, nil
}

func (t RateTable) Lookup(provider, model string) (Rate, error) {
	r, ok := t[provider][model]
	if !ok {
		return Rate{}, &MeteringRateUnavailableError{Provider: provider, Model: model}
	}
	return r, nil
}

// CostOf prices usage for a provider model.
func (t RateTable) CostOf(provider, model string, u Usage) (decimal.Decimal, error) {
	r, err := t.Lookup(provider, model)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Cost(u), nil
}

func (r Rate) Cost(u Usage) decimal.Decimal {
	cost := decimal.NewFromInt(u.InputTokens).Div(thousand).Mul(r.InputPer1K).
		Add(decimal.NewFromInt(u.OutputTokens).Div(thousand).Mul(r.OutputPer1K))
	if u.DurationSeconds > 0 {
		cost = cost.Add(decimal.NewFromFloat(u.DurationSeconds).Div(sixty).Mul(r.PerMinute))
	}
	return cost.Round(8)
}

// Models lists "provider/model" pairs, sorted.
func (t RateTable) Models() []string {
	var out []string
	for p, models := range t {
		for m := range models {
			out = append(out, p+"/"+m)
		}
	}
	sort.Strings(out)
	return out
}
