package pipeline

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/model"
)

var headerAliases = map[string]string{
	"roc":             "registry_number",
	"roc_number":      "registry_number",
	"license":         "registry_number",
	"license_number":  "registry_number",
	"registry":        "registry_number",
	"contractor_name": "name",
	"business_name":   "name",
	"url":             "website",
}

// ReadInputs decodes a contractor CSV. Headers are matched
// case-insensitively; unknown columns are ignored and rows with neither a
// registry number nor a name are skipped.
func ReadInputs(r io.Reader) ([]model.ContractorInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: read header")
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := normalizeHeader(h)
		if seen[name] {
			name = "_dup_" + name
		}
		seen[name] = true
		header[i] = name
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "input: new decoder")
	}

	var out []model.ContractorInput
	for {
		var in model.ContractorInput
		err := dec.Decode(&in)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "input: decode row %d", len(out)+2)
		}
		in.RegistryNumber = strings.TrimSpace(in.RegistryNumber)
		in.Name = strings.TrimSpace(in.Name)
		if in.RegistryNumber == "" && in.Name == "" {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", "#", "number").Replace(h)
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}
