package domain

import "encoding/json"

type SeriesKind string

const (
	KindClimate SeriesKind = "climate"
	KindNumeric SeriesKind = "numeric"
	KindText    SeriesKind = "text"
)

// Series is a chart-ready history series. It is implemented only by the
// types in this file; callers switch on the concrete type.
//
// Every parallel slice of a series has the same length as Timestamps. A nil
// element is a gap in the data.
type Series interface {
	Kind() SeriesKind
	Len() int
	isSeries()
}

type ClimateSeries struct {
	Timestamps            []string   `json:"timestamps"`
	CurrentTemperature    []*float64 `json:"current_temperature"`
	Temperature           []*float64 `json:"temperature"`
	ExtCurrentTemperature []*float64 `json:"ext_current_temperature"`
	IsHeating             []int      `json:"is_heating"`
}

func (s *ClimateSeries) Kind() SeriesKind { return KindClimate }
func (s *ClimateSeries) Len() int         { return len(s.Timestamps) }
func (*ClimateSeries) isSeries()          {}

func (s *ClimateSeries) MarshalJSON() ([]byte, error) {
	type plain ClimateSeries
	return json.Marshal(struct {
		Type SeriesKind `json:"type"`
		*plain
	}{Type: KindClimate, plain: (*plain)(s)})
}

type NumericSeries struct {
	Domain     string     `json:"domain"`
	Timestamps []string   `json:"timestamps"`
	States     []*float64 `json:"states"`
}

func (s *NumericSeries) Kind() SeriesKind { return KindNumeric }
func (s *NumericSeries) Len() int         { return len(s.Timestamps) }
func (*NumericSeries) isSeries()          {}

func (s *NumericSeries) MarshalJSON() ([]byte, error) {
	type plain NumericSeries
	return json.Marshal(struct {
		Type SeriesKind `json:"type"`
		*plain
	}{Type: KindNumeric, plain: (*plain)(s)})
}

type TextSeries struct {
	Domain     string    `json:"domain"`
	Timestamps []string  `json:"timestamps"`
	States     []*string `json:"states"`
}

func (s *TextSeries) Kind() SeriesKind { return KindText }
func (s *TextSeries) Len() int         { return len(s.Timestamps) }
func (*TextSeries) isSeries()          {}

func (s *TextSeries) MarshalJSON() ([]byte, error) {
	type plain TextSeries
	return json.Marshal(struct {
		Type SeriesKind `json:"type"`
		*plain
	}{Type: KindText, plain: (*plain)(s)})
}

// AttributeSeries holds the values found at Key in each entry's attributes,
// unchanged. ValueKind is KindNumeric or KindText.
type AttributeSeries struct {
	Key        string     `json:"key"`
	ValueKind  SeriesKind `json:"type"`
	Timestamps []string   `json:"timestamps"`
	Values     []any      `json:"values"`
}

func (s *AttributeSeries) Kind() SeriesKind { return s.ValueKind }
func (s *AttributeSeries) Len() int         { return len(s.Timestamps) }
func (*AttributeSeries) isSeries()          {}
