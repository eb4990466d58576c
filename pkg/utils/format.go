package utils

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// pt-BR layouts: "." groups thousands, "," separates decimals
const (
	layoutTwoDecimals = "#.###,##"
	layoutOneDecimal  = "#.###,#"
	layoutInteger     = "#.###,"
)

// FormatCurrency renders a value as Brazilian reais with two decimals
func FormatCurrency(v float64) string {
	return "R$ " + humanize.FormatFloat(layoutTwoDecimals, v)
}

// FormatPercent renders a ratio already expressed in percent with one decimal
func FormatPercent(v float64) string {
	return humanize.FormatFloat(layoutOneDecimal, v) + "%"
}

// FormatNumber renders whole quantities without decimals and everything else with two
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return humanize.FormatFloat(layoutInteger, v)
	}
	return humanize.FormatFloat(layoutTwoDecimals, v)
}

// MetricFormat classifies a metric name into its display format
type MetricFormat int

const (
	FormatQuantity MetricFormat = iota
	FormatMoney
	FormatPct
)

// FormatFor picks the display format from the metric name
func FormatFor(metric string) MetricFormat {
	m := strings.ToLower(metric)
	switch {
	case strings.Contains(m, "pct") || strings.Contains(m, "percent") || strings.Contains(m, "share"):
		return FormatPct
	case strings.Contains(m, "valor") || strings.Contains(m, "receita") || strings.Contains(m, "faturamento"):
		return FormatMoney
	default:
		return FormatQuantity
	}
}

// FormatMetric formats v according to the metric name
func FormatMetric(metric string, v float64) string {
	switch FormatFor(metric) {
	case FormatMoney:
		return FormatCurrency(v)
	case FormatPct:
		return FormatPercent(v)
	default:
		return FormatNumber(v)
	}
}
