// Package layout partitions dashboard panels into display rows.
//
// Short panels are packed left to right by width until the next one would overflow
// the row; tall panels always get a row of their own, after all packed rows.
package layout

const (
	// SmallPanelMaxHeight is the tallest panel still packed next to others.
	SmallPanelMaxHeight = 320
	// RowGap is the horizontal gap between two panels sharing a row.
	RowGap = 32
	// DefaultPanelWidth applies to panels without an explicit width.
	DefaultPanelWidth = 1000
	// DefaultPanelHeight applies to panels without an explicit height.
	DefaultPanelHeight = 400
	// DefaultRowWidth is used when no positive row width is supplied.
	DefaultRowWidth = 1200
)

// Size is a panel's explicit dimensions in pixels. Zero means unset.
type Size struct {
	Width  int
	Height int
}

// Placement references a panel by its index in the input sequence.
type Placement struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Row is one display row.
type Row []Placement

// Small reports whether the placement is packed with others.
func (p Placement) Small() bool {
	return p.Height <= SmallPanelMaxHeight
}

// Compute plans rows for the panels in order.
func Compute(sizes []Size, rowWidth int) []Row {
	if len(sizes) == 0 {
		return []Row{}
	}
	if rowWidth <= 0 {
		rowWidth = DefaultRowWidth
	}

	small := make([]Placement, 0, len(sizes))
	tall := make([]Placement, 0, len(sizes))
	for index, size := range sizes {
		placement := withDefaults(index, size)
		if placement.Small() {
			small = append(small, placement)
		} else {
			tall = append(tall, placement)
		}
	}

	rows := make([]Row, 0, len(tall)+1)
	current := Row{}
	usedWidth := 0
	for _, placement := range small {
		if len(current) > 0 && usedWidth+RowGap+placement.Width > rowWidth {
			rows = append(rows, current)
			current = Row{}
			usedWidth = 0
		}
		if len(current) > 0 {
			usedWidth += RowGap
		}
		current = append(current, placement)
		usedWidth += placement.Width
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}

	for _, placement := range tall {
		rows = append(rows, Row{placement})
	}
	return rows
}

// Indexes flattens rows into the panel indexes they reference, row by row.
func Indexes(rows []Row) [][]int {
	out := make([][]int, 0, len(rows))
	for _, row := range rows {
		indexes := make([]int, 0, len(row))
		for _, placement := range row {
			indexes = append(indexes, placement.Index)
		}
		out = append(out, indexes)
	}
	return out
}

func withDefaults(index int, size Size) Placement {
	width := size.Width
	if width <= 0 {
		width = DefaultPanelWidth
	}
	height := size.Height
	if height <= 0 {
		height = DefaultPanelHeight
	}
	return Placement{Index: index, Width: width, Height: height}
}
