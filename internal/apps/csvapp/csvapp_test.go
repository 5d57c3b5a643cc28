package csvapp

import (
	"context"
	"reflect"
	"testing"

	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		comma      rune
		hasHeaders bool
		want       []map[string]any
	}{
		{
			"headers",
			"name,age\nann,31\nbob,40",
			',', true,
			[]map[string]any{{"name": "ann", "age": "31"}, {"name": "bob", "age": "40"}},
		},
		{
			"numbered columns",
			"a,b\nc,d",
			',', false,
			[]map[string]any{{"1": "a", "2": "b"}, {"1": "c", "2": "d"}},
		},
		{
			"tab with quoted comma",
			"city\tnote\n\"Paris\"\t\"big, old\"",
			'\t', true,
			[]map[string]any{{"city": "Paris", "note": "big, old"}},
		},
		{
			"short record",
			"x,y\n1",
			',', true,
			[]map[string]any{{"x": "1", "y": nil}},
		},
		{
			"empty",
			"",
			',', true,
			[]map[string]any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.text, tt.comma, tt.hasHeaders)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunResolvesSwitch(t *testing.T) {
	a := NewConvertToJSON()
	cfg, err := resolver.Resolve(a.Schema(), map[string]any{"csv": "k\nv", "delimiter": "comma", "hasHeaders": "true"}, resolver.Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := a.Run(context.Background(), plugin.RunArgs{Config: cfg})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]any{"result": []map[string]any{{"k": "v"}}}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}
