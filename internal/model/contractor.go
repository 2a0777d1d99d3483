package model

import (
	"strings"

	"github.com/google/uuid"
)

// ContractorInput is one row of a submitted job. It is never mutated after
// submission.
type ContractorInput struct {
	RegistryNumber string `json:"registry_number" csv:"registry_number"`
	Name           string `json:"name" csv:"name"`
	City           string `json:"city,omitempty" csv:"city,omitempty"`
	Phone          string `json:"phone,omitempty" csv:"phone,omitempty"`
	Website        string `json:"website,omitempty" csv:"website,omitempty"`
	Classification string `json:"classification,omitempty" csv:"classification,omitempty"`
	Status         string `json:"status,omitempty" csv:"status,omitempty"`
	Position       int    `json:"position" csv:"-"`
}

// Entity is the resolved canonical record for one contractor.
type Entity struct {
	ID             string `json:"id"`
	RegistryNumber string `json:"registry_number"`
	Name           string `json:"name"`
	BusinessName   string `json:"business_name,omitempty"`
	Address        string `json:"address,omitempty"`
	City           string `json:"city,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Classification string `json:"classification,omitempty"`
	Status         string `json:"status,omitempty"`
	Website        string `json:"website,omitempty"`

	// Source names the lookup attempt that produced the record
	// (knowledge_store, dataset, portal, input).
	Source string `json:"source,omitempty"`
}

// Entity capture sources.
const (
	EntitySourceKnowledge = "knowledge_store"
	EntitySourceDataset   = "dataset"
	EntitySourcePortal    = "portal"
	EntitySourceInput     = "input"
)

// EntityFromInput builds a minimal Entity from caller-supplied data.
func EntityFromInput(in ContractorInput) Entity {
	return Entity{
		ID:             uuid.New().String(),
		RegistryNumber: strings.TrimSpace(in.RegistryNumber),
		Name:           strings.TrimSpace(in.Name),
		City:           strings.TrimSpace(in.City),
		Phone:          strings.TrimSpace(in.Phone),
		Website:        strings.TrimSpace(in.Website),
		Classification: strings.TrimSpace(in.Classification),
		Status:         strings.TrimSpace(in.Status),
		Source:         EntitySourceInput,
	}
}

// HasWebsite reports whether an official website is known.
func (e Entity) HasWebsite() bool {
	return strings.TrimSpace(e.Website) != ""
}

// HasEnrichment reports whether the record carries any field beyond the
// bare registry number and name.
func (e Entity) HasEnrichment() bool {
	for _, v := range []string{e.BusinessName, e.Address, e.Phone, e.Classification, e.Status, e.Website} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// DisplayName prefers the business (DBA) name over the licensee name.
func (e Entity) DisplayName() string {
	if strings.TrimSpace(e.BusinessName) != "" {
		return e.BusinessName
	}
	return e.Name
}

// Merge fills empty fields of e from other. Fields already set on e win.
func (e Entity) Merge(other Entity) Entity {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&e.Name, other.Name)
	fill(&e.BusinessName, other.BusinessName)
	fill(&e.Address, other.Address)
	fill(&e.City, other.City)
	fill(&e.Phone, other.Phone)
	fill(&e.Classification, other.Classification)
	fill(&e.Status, other.Status)
	fill(&e.Website, other.Website)
	return e
}
