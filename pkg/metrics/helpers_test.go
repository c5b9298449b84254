package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

func family(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// sample returns the first series of name carrying every label in want.
func sample(mfs []*dto.MetricFamily, name string, want map[string]string) (*dto.Metric, error) {
	mf := family(mfs, name)
	if mf == nil {
		return nil, fmt.Errorf("metric %q not found", name)
	}
	for _, m := range mf.GetMetric() {
		have := map[string]string{}
		for _, lp := range m.GetLabel() {
			have[lp.GetName()] = lp.GetValue()
		}
		ok := true
		for k, v := range want {
			if have[k] != v {
				ok = false
				break
			}
		}
		if ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("metric %q has no series matching %v", name, want)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	m, err := sample(mfs, name, map[string]string{label: value})
	if err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}
