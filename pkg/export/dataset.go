package export

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Append adds a row keyed by header.
func (d *Dataset) Append(row map[string]string) {
	d.Rows = append(d.Rows, row)
}
