package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/search"
)

// DefaultNameThreshold is the minimum two-way token overlap for a fuzzy
// name match.
const DefaultNameThreshold = 0.75

// DatasetRecord is one row of an offline registry export.
type DatasetRecord struct {
	RegistryNumber string `csv:"registry_number" yaml:"registry_number"`
	Name           string `csv:"name" yaml:"name"`
	BusinessName   string `csv:"business_name,omitempty" yaml:"business_name"`
	Address        string `csv:"address,omitempty" yaml:"address"`
	City           string `csv:"city,omitempty" yaml:"city"`
	Phone          string `csv:"phone,omitempty" yaml:"phone"`
	Classification string `csv:"classification,omitempty" yaml:"classification"`
	Status         string `csv:"status,omitempty" yaml:"status"`
	Website        string `csv:"website,omitempty" yaml:"website"`
}

// Entity converts the record.
func (r DatasetRecord) Entity() model.Entity {
	return model.Entity{
		RegistryNumber: strings.TrimSpace(r.RegistryNumber),
		Name:           strings.TrimSpace(r.Name),
		BusinessName:   strings.TrimSpace(r.BusinessName),
		Address:        strings.TrimSpace(r.Address),
		City:           strings.TrimSpace(r.City),
		Phone:          strings.TrimSpace(r.Phone),
		Classification: strings.TrimSpace(r.Classification),
		Status:         strings.TrimSpace(r.Status),
		Website:        strings.TrimSpace(r.Website),
		Source:         model.EntitySourceDataset,
	}
}

// Dataset is an in-memory index over registry records.
type Dataset struct {
	records   []DatasetRecord
	byNumber  map[string]int
	threshold float64
}

// NewDataset indexes records by normalized registry number.
func NewDataset(records []DatasetRecord) *Dataset {
	d := &Dataset{
		records:   records,
		byNumber:  make(map[string]int, len(records)),
		threshold: DefaultNameThreshold,
	}
	for i, r := range records {
		if k := normalizeNumber(r.RegistryNumber); k != "" {
			if _, dup := d.byNumber[k]; !dup {
				d.byNumber[k] = i
			}
		}
	}
	return d
}

// LoadDataset reads a CSV or YAML registry export, chosen by extension.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read dataset")
	}

	var records []DatasetRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, eris.Wrap(err, "registry: unmarshal yaml dataset")
		}
	case ".csv":
		if err := csvutil.Unmarshal(data, &records); err != nil {
			return nil, eris.Wrap(err, "registry: unmarshal csv dataset")
		}
	default:
		return nil, eris.Errorf("registry: unsupported dataset format %q", filepath.Ext(path))
	}
	return NewDataset(records), nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// Find looks a record up by registry number, then by fuzzy name. When a
// registry number is given, the name fallback only considers records that
// carry no number of their own.
func (d *Dataset) Find(registryNumber, name string) (*DatasetRecord, bool) {
	if d == nil {
		return nil, false
	}
	number := normalizeNumber(registryNumber)
	if i, ok := d.byNumber[number]; ok {
		r := d.records[i]
		return &r, true
	}
	if strings.TrimSpace(name) == "" {
		return nil, false
	}

	best, bestScore := -1, 0.0
	for i, r := range d.records {
		if number != "" && normalizeNumber(r.RegistryNumber) != "" {
			continue
		}
		score := nameScore(name, r)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < d.threshold {
		return nil, false
	}
	r := d.records[best]
	return &r, true
}

// nameScore is the weaker direction of token overlap, so a short query
// cannot match a long name on a single shared word.
func nameScore(name string, r DatasetRecord) float64 {
	score := 0.0
	for _, candidate := range []string{r.Name, r.BusinessName} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		s := min(search.NameSimilarity(candidate, name), search.NameSimilarity(name, candidate))
		if s > score {
			score = s
		}
	}
	return score
}

func normalizeNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}
