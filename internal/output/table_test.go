package output_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/keyward/internal/output"
)

func TestTable_Render(t *testing.T) {
	t.Parallel()

	tbl := output.NewTable("CHAIN", "INDEX", "VALUE").AlignRight(1, 2)
	tbl.AddRow("p2sh", "0", "1.00000000")
	tbl.AddRow("p2wsh", "12", "0.5")

	lines := strings.Split(strings.TrimSuffix(tbl.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"CHAIN  INDEX       VALUE",
		"-----  -----  ----------",
		"p2sh       0  1.00000000",
		"p2wsh     12         0.5",
	}, lines)
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_RaggedRows(t *testing.T) {
	t.Parallel()

	tbl := output.NewTable("A")
	tbl.AddRow("x", "extra")
	assert.Equal(t, "A\n-  -----\nx  extra\n", tbl.String())
}

func TestTable_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, output.NewTable().String())
}
