package features

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Columns describes how each input column is turned into network inputs.
type Columns struct {
	Target      string `yaml:"target"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// OneHot columns hold 1-based category values encoded as indicator vectors
	OneHot []string `yaml:"one_hot"`

	// Embedded columns hold 0-based category values looked up in a learned table
	Embedded []string `yaml:"embedded"`

	// Numeric columns are standardised; they may name derived columns
	Numeric []string `yaml:"numeric"`
}

func DefaultColumns() Columns {
	return Columns{
		Target:      "AdoptionSpeed",
		ID:          "PID",
		Description: "Description",
		OneHot:      []string{"Color1", "Color2", "Color3", "Type"},
		Embedded:    []string{"Breed1", "Breed2"},
		Numeric:     []string{"Age", "Fee", SquaredAge, WordCount},
	}
}

// LoadColumns reads a YAML column layout. Keys missing from the file keep their default value.
func LoadColumns(fileName string) (Columns, error) {
	columns := DefaultColumns()
	if fileName == "" {
		return columns, nil
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return columns, fmt.Errorf("error reading column layout %s: %w", fileName, err)
	}
	if err := yaml.Unmarshal(data, &columns); err != nil {
		return columns, fmt.Errorf("error parsing column layout %s: %w", fileName, err)
	}
	return columns, columns.Validate()
}

func (c Columns) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target column is required")
	}
	seen := map[string]string{c.Target: "target"}
	check := func(kind string, names []string) error {
		for _, name := range names {
			if other, ok := seen[name]; ok {
				return fmt.Errorf("column %s is listed as both %s and %s", name, other, kind)
			}
			seen[name] = kind
		}
		return nil
	}
	if err := check("one_hot", c.OneHot); err != nil {
		return err
	}
	if err := check("embedded", c.Embedded); err != nil {
		return err
	}
	if err := check("numeric", c.Numeric); err != nil {
		return err
	}
	if len(c.OneHot)+len(c.Numeric) == 0 {
		return fmt.Errorf("at least one one_hot or numeric column is required")
	}
	return nil
}
