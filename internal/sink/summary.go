package sink

import (
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// SummaryColumn maps a summary column title to the series it reports.
type SummaryColumn struct {
	Title  string `yaml:"title"`
	Series string `yaml:"series"`
}

// DefaultSummaryColumns returns the stock frame-timing summary layout.
// Titles keep their historical leading spaces.
func DefaultSummaryColumns() []SummaryColumn {
	return []SummaryColumn{
		{Title: "Frame (ms)", Series: "FrameTime"},
		{Title: " GT (ms)", Series: "GameTime"},
		{Title: " RT (ms)", Series: "RenderTime"},
		{Title: " GPU (ms)", Series: "GPUTime"},
		{Title: "DynRes", Series: "DynRes"},
	}
}

// DefaultPercentiles are the summary rows written at session end.
func DefaultPercentiles() []float64 {
	return []float64{25, 50, 75}
}

// SummaryRow is one percentile across every summary column.
type SummaryRow struct {
	Percentile float64
	Values     []float64
}

// Summary is the terminal per-session percentile table.
type Summary struct {
	Columns []string
	Context string
	Rows    []SummaryRow
}

// Header returns the summary header line without its line ending.
func (s Summary) Header() string {
	parts := make([]string, 0, len(s.Columns)+2)
	parts = append(parts, "Percentile")
	parts = append(parts, s.Columns...)
	parts = append(parts, "Context")

	return strings.Join(parts, ",")
}

// WriteSummary writes summary to path, truncating any existing file.
func WriteSummary(path string, summary Summary) error {
	f, err := openFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}

	return writeDurable(logrus.StandardLogger(), f, path, formatSummary(summary))
}

func formatSummary(summary Summary) string {
	var b strings.Builder

	b.WriteString(summary.Header())
	b.WriteString(lineEnding)

	var num [32]byte

	for _, row := range summary.Rows {
		b.Write(strconv.AppendFloat(num[:0], row.Percentile, 'f', -1, 64))

		for _, v := range row.Values {
			b.WriteByte(',')
			b.Write(strconv.AppendFloat(num[:0], v, 'f', 2, 64))
		}

		b.WriteByte(',')
		b.WriteString(contextField(summary.Context))
		b.WriteString(lineEnding)
	}

	return b.String()
}

// contextField keeps a free-form label from splitting the row.
func contextField(label string) string {
	return strings.NewReplacer(",", ";", "\r", " ", "\n", " ").Replace(label)
}
