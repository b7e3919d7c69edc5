// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
//
// Metrics are process-wide counters registered at package initialization
// time. They are exported in the Prometheus text exposition format by
// WritePrometheus.
package metric

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"gvisor.dev/robustfutex/pkg/atomicbitops"
	"gvisor.dev/robustfutex/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name does not have the form
	// /component/name.
	ErrInvalidName = errors.New("metric name must start with '/' and contain only [a-z0-9_/]")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFields indicates that more than one field was given.
	ErrTooManyFields = errors.New("metric may have at most one field")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored, optionally broken down by the values of a single field.
type Uint64Metric struct {
	name        string
	description string

	// field is the optional field; field.name is empty if there is none.
	field Field

	// values holds one counter per allowed field value, or a single counter
	// if the metric has no field.
	values []atomicbitops.Uint64
}

var (
	// mu protects allMetrics.
	mu sync.Mutex

	// allMetrics are the registered metrics, by name.
	allMetrics = make(map[string]*Uint64Metric)
)

func validName(name string) bool {
	if len(name) < 2 || name[0] != '/' {
		return false
	}
	for _, c := range name[1:] {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '/') {
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(fields) > 1 {
		return nil, ErrTooManyFields
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
	}
	n := 1
	if len(fields) == 1 {
		if len(fields[0].allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		m.field = fields[0]
		n = len(fields[0].allowedValues)
	}
	m.values = make([]atomicbitops.Uint64, n)

	mu.Lock()
	defer mu.Unlock()
	if _, ok := allMetrics[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	allMetrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// index returns the counter index for the given field values.
func (m *Uint64Metric) index(fieldValues []string) int {
	if m.field.name == "" {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric %s has no fields, got %v", m.name, fieldValues))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric %s requires exactly one field value, got %v", m.name, fieldValues))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("disallowed field value %q for metric %s", fieldValues[0], m.name))
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.index(fieldValues)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(v)
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// prometheusName converts "/robust/acquired" into "robust_acquired".
func prometheusName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

func (m *Uint64Metric) family() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(prometheusName(m.name)),
		Help: proto.String(m.description),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	if m.field.name == "" {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(m.values[0].Load()))},
		})
		return mf
	}
	for i, v := range m.field.allowedValues {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{
				Name:  proto.String(m.field.name),
				Value: proto.String(v),
			}},
			Counter: &dto.Counter{Value: proto.Float64(float64(m.values[i].Load()))},
		})
	}
	return mf
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format, sorted by name.
func WritePrometheus(w io.Writer) error {
	mu.Lock()
	metrics := make([]*Uint64Metric, 0, len(allMetrics))
	for _, m := range allMetrics {
		metrics = append(metrics, m)
	}
	mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, m := range metrics {
		if err := enc.Encode(m.family()); err != nil {
			return fmt.Errorf("encoding metric %s: %w", m.name, err)
		}
	}
	return nil
}
