package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ReserveOutcomeReserved     = "reserved"
	ReserveOutcomeInsufficient = "insufficient"
	ReserveOutcomeError        = "error"
)

// StockMetrics counts ledger mutations by kind.
type StockMetrics struct {
	reservations *prometheus.CounterVec
	operations   *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	reaped       prometheus.Counter
}

// NewStockMetrics registers the stock ledger metrics on the provided registerer.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	if reg == nil {
		return &StockMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_operations_total",
		Help: "Committed stock ledger operations by type.",
	}, []string{"operation"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_conversions_total",
		Help: "Reservation conversions attempted by payment handlers, by outcome.",
	}, []string{"outcome"})
	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_reaped_total",
		Help: "Expired reservations closed by the reaper.",
	})
	reg.MustRegister(reservations, operations, conversions, reaped)
	return &StockMetrics{
		reservations: reservations,
		operations:   operations,
		conversions:  conversions,
		reaped:       reaped,
	}
}

// ObserveReserve records the outcome of a reservation attempt.
func (m *StockMetrics) ObserveReserve(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncOperation counts one committed ledger operation.
func (m *StockMetrics) IncOperation(operation string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveConversion records how a reservation conversion ended.
func (m *StockMetrics) ObserveConversion(outcome string) {
	if m == nil || m.conversions == nil {
		return
	}
	m.conversions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddReaped adds n closed reservations.
func (m *StockMetrics) AddReaped(n int) {
	if m == nil || m.reaped == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

// ReservationsCounter exposes one outcome series, mostly for tests.
func (m *StockMetrics) ReservationsCounter(outcome string) prometheus.Counter {
	return m.reservations.WithLabelValues(normalizeLabel(outcome))
}

// ConversionsCounter exposes one conversion outcome series.
func (m *StockMetrics) ConversionsCounter(outcome string) prometheus.Counter {
	return m.conversions.WithLabelValues(normalizeLabel(outcome))
}

// ReapedCounter exposes the reaper counter.
func (m *StockMetrics) ReapedCounter() prometheus.Counter {
	return m.reaped
}
