package diagnostic

import (
	"fmt"
	"io"
	"strings"
)

// escapeLatex escapes the characters that appear in our labels and column
// names. Underscores are the common case (count_sim, pct_diff).
var latexEscaper = strings.NewReplacer(
	"_", `\_`,
	"%", `\%`,
	"&", `\&`,
	"#", `\#`,
)

// WriteLaTeX renders the results as a standalone LaTeX document with one
// section per analysis. Per-link tables use the longtable environment so
// they can break across pages.
func WriteLaTeX(w io.Writer, title string, results []Result) error {
	var b strings.Builder

	b.WriteString("\\documentclass{article}\n")
	b.WriteString("\\usepackage{longtable}\n")
	b.WriteString("\\usepackage{float}\n")
	b.WriteString("\\begin{document}\n")
	if title != "" {
		fmt.Fprintf(&b, "\\title{%s}\n\\maketitle\n", latexEscaper.Replace(title))
	}

	for _, res := range results {
		fmt.Fprintf(&b, "\\section{%s}\n", latexEscaper.Replace(res.Title))
		writeLatexTable(&b, res.Table, res.Slug)
	}

	b.WriteString("\\end{document}\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func writeLatexTable(b *strings.Builder, t *Table, label string) {
	colSpec := strings.Repeat("r", len(t.Columns)+1)

	env := "tabular"
	if t.Long {
		env = "longtable"
	}

	if !t.Long {
		b.WriteString("\\begin{table}[H]\n\\centering\n")
	}
	fmt.Fprintf(b, "\\begin{%s}{%s}\n", env, colSpec)

	cells := make([]string, 0, len(t.Columns)+1)
	cells = append(cells, latexEscaper.Replace(t.IndexName))
	for _, c := range t.Columns {
		cells = append(cells, latexEscaper.Replace(c))
	}
	b.WriteString(strings.Join(cells, " & "))
	b.WriteString(" \\\\\n\\hline\n")

	for i, idx := range t.Index {
		cells = cells[:0]
		cells = append(cells, latexEscaper.Replace(idx))
		for j := range t.Columns {
			cells = append(cells, t.Cell(i, j))
		}
		b.WriteString(strings.Join(cells, " & "))
		b.WriteString(" \\\\\n")
	}

	fmt.Fprintf(b, "\\end{%s}\n", env)
	if !t.Long {
		fmt.Fprintf(b, "\\caption{%s}\n\\label{table:%s}\n\\end{table}\n", latexEscaper.Replace(label), label)
	}
}
