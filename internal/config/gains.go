package config

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
)

// LoadGainTable reads a per-channel, per-bin complex gain table stored as
// nested JSON arrays of [re, im] pairs and checks it against the geometry.
func LoadGainTable(path string, channels, bins int) (l3correlate.GainTable, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return nil, err
	}
	var raw [][][2]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gain table JSON: %w", err)
	}

	gains := make(l3correlate.GainTable, len(raw))
	for ch, row := range raw {
		gains[ch] = make([]complex128, len(row))
		for b, v := range row {
			gains[ch][b] = complex(v[0], v[1])
		}
	}
	if err := gains.Validate(channels, bins); err != nil {
		return nil, err
	}
	return gains, nil
}
