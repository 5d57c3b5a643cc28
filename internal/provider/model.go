package provider

import (
	"fmt"
	"strings"
)

// ModelRef names a model as "provider/model", the same key rate tables
// are indexed by.
type ModelRef string

func NewModelRef(providerID, modelID string) ModelRef {
	return ModelRef(providerID + "/" + modelID)
}

func (r ModelRef) Provider() string {
	p, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return p
}

func (r ModelRef) Model() string {
	_, m, ok := strings.Cut(string(r), "/")
	if !ok {
		return string(r)
	}
	return m
}

func (r ModelRef) String() string { return string(r) }

// Label is the form shown in model pickers.
func (r ModelRef) Label() string { return r.Provider() + ": " + r.Model() }

func (r ModelRef) Valid() bool {
	return r.Provider() != "" && r.Model() != ""
}

func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(s)
	if !ref.Valid() {
		return "", fmt.Errorf("invalid model ref %q: expected format provider/model", s)
	}
	return ref, nil
}

// ModelInfo is a model a provider declares. A provider that declares none
// accepts any model name.
type ModelInfo struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	ProviderID string `json:"provider_id" yaml:"provider_id"`
}

func (m ModelInfo) Ref() ModelRef {
	return NewModelRef(m.ProviderID, m.ID)
}

func declares(models []ModelInfo, model string) bool {
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m.ID == model {
			return true
		}
	}
	return false
}
