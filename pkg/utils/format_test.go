package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1.234", FormatNumber(1234))
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "1.234,50", FormatNumber(1234.5))
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "R$ 1.234.567,89", FormatCurrency(1234567.891))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "12,5%", FormatPercent(12.5))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatQuantity, FormatFor("total_vendas"))
	assert.Equal(t, FormatMoney, FormatFor("total_valor"))
	assert.Equal(t, FormatMoney, FormatFor("RECEITA"))
	assert.Equal(t, FormatPct, FormatFor("share_segmento"))
}

func TestFormatMetric(t *testing.T) {
	assert.Equal(t, "2.000", FormatMetric("total_estoque", 2000))
	assert.Equal(t, "R$ 10,00", FormatMetric("faturamento", 10))
}
