package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simexp/sim"
)

// statJSON is the serialized form of a SummaryStat. Undefined moments are null.
type statJSON struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Stddev *float64 `json:"stddev"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
}

// PrintResults writes one line per result key, sorted by key.
func PrintResults(w io.Writer, res sim.ResultMap) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "=== Experiment Results ===")
	for _, k := range res.Keys() {
		fmt.Fprintf(tw, "%s\t%v\n", k, formatValue(res[k]))
	}
	return tw.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%.6g", x)
	case *sim.SummaryStat:
		return x.String()
	}
	return fmt.Sprint(v)
}

// WriteResultsJSON writes res as an indented JSON object to path.
func WriteResultsJSON(path string, res sim.ResultMap) error {
	data, err := MarshalResults(res)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	logrus.Infof("results written to %s", path)
	return nil
}

// MarshalResults encodes res as JSON. NaN and infinite values become null.
func MarshalResults(res sim.ResultMap) ([]byte, error) {
	out := make(map[string]any, len(res))
	for k, v := range res {
		out[k] = jsonValue(v)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}
	return data, nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		return finite(x)
	case []float64:
		out := make([]*float64, len(x))
		for i, f := range x {
			out[i] = finite(f)
		}
		return out
	case *sim.SummaryStat:
		return statJSON{
			Count:  x.Count(),
			Mean:   finite(x.Mean()),
			Stddev: finite(x.Stddev()),
			Min:    finite(x.Min()),
			Max:    finite(x.Max()),
		}
	case error:
		return x.Error()
	}
	return v
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
