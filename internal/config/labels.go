package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Labels is the detection label configuration. Classes must match the
// model's training order; PassLabels name the classes that count as a
// good part; Priority breaks confidence ties, highest priority first.
type Labels struct {
	Classes    []string `json:"classes"`
	PassLabels []string `json:"pass_labels"`
	Threshold  float64  `json:"confidence_threshold"`
	Priority   []string `json:"label_priority"`
}

// DefaultLabels returns the bottle-cap inspection label set.
func DefaultLabels() Labels {
	return Labels{
		Classes:    []string{"cap_on", "cap_off", "cap_off_wick_ng"},
		PassLabels: []string{"cap_on"},
		Threshold:  0.5,
		Priority:   []string{"cap_off_wick_ng", "cap_off", "cap_on"},
	}
}

// LoadLabels reads the label configuration from path. A missing file is
// created with the defaults so the line has an editable template.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		labels := DefaultLabels()
		if werr := writeLabels(path, labels); werr != nil {
			return Labels{}, fmt.Errorf("config: write default labels: %w", werr)
		}
		return labels, nil
	}
	if err != nil {
		return Labels{}, fmt.Errorf("config: read labels: %w", err)
	}

	var labels Labels
	if err := json.Unmarshal(data, &labels); err != nil {
		return Labels{}, fmt.Errorf("config: parse labels: %w", err)
	}
	if err := labels.Validate(); err != nil {
		return Labels{}, err
	}
	return labels, nil
}

// Validate checks the label set is internally consistent.
func (l Labels) Validate() error {
	if len(l.Classes) == 0 {
		return fmt.Errorf("config: labels need at least one class")
	}
	if l.Threshold < 0 || l.Threshold > 1 {
		return fmt.Errorf("config: confidence threshold %v out of range [0, 1]", l.Threshold)
	}
	known := make(map[string]bool, len(l.Classes))
	for _, c := range l.Classes {
		known[c] = true
	}
	for _, p := range l.PassLabels {
		if !known[p] {
			return fmt.Errorf("config: pass label %q is not a model class", p)
		}
	}
	for _, p := range l.Priority {
		if !known[p] {
			return fmt.Errorf("config: priority label %q is not a model class", p)
		}
	}
	return nil
}

func writeLabels(path string, labels Labels) error {
	data, err := json.MarshalIndent(labels, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
