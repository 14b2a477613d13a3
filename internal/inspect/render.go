package inspect

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Scheme holds the colors used when rendering a report.
type Scheme struct {
	Title  *color.Color
	Header *color.Color
	Name   *color.Color
	Value  *color.Color
	Empty  *color.Color
}

// DefaultScheme returns the terminal color scheme.
func DefaultScheme() *Scheme {
	return &Scheme{
		Title:  color.New(color.FgCyan, color.Bold),
		Header: color.New(color.FgYellow),
		Name:   color.New(color.FgBlue, color.Bold),
		Value:  color.New(color.FgWhite),
		Empty:  color.New(color.FgRed),
	}
}

// NoColorScheme returns a scheme with colors disabled.
func NoColorScheme() *Scheme {
	s := DefaultScheme()
	for _, c := range []*color.Color{s.Title, s.Header, s.Name, s.Value, s.Empty} {
		c.DisableColor()
	}

	return s
}

// Render writes rep as an aligned table.
func Render(w io.Writer, rep *Report, scheme *Scheme) error {
	if scheme == nil {
		scheme = DefaultScheme()
	}

	if rep.Path != "" {
		scheme.Title.Fprintln(w, rep.Path)
	}

	fmt.Fprintf(w, "%d windows over %s\n\n", rep.Windows, rep.Duration)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, scheme.Header.Sprint("SERIES\tWINDOWS\tAVG\tMIN\tMAX"))

	for _, s := range rep.Series {
		if s.Windows == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\n",
				scheme.Name.Sprint(s.Name), scheme.Empty.Sprint("0"))

			continue
		}

		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			scheme.Name.Sprint(s.Name),
			s.Windows,
			scheme.Value.Sprintf("%.2f", s.Avg),
			scheme.Value.Sprintf("%.2f", s.Min),
			scheme.Value.Sprintf("%.2f", s.Max),
		)
	}

	return tw.Flush()
}
