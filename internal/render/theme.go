package render

// Theme holds colors for call-graph and CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by provenance category.
	EdgeEntry      string // entry-block / loop-back highlight
	EdgeHook       string // hook calls the instrumentation task introduced
	EdgeDirect     string // native calls the lifter preserved
	EdgeUnresolved string // indirect call with no resolvable target

	// Node accents.
	StubFill     string // device-library stub functions
	ExternalText string // external / unresolved targets

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeEntry:      "#0B3D91", // NASA blue
	EdgeHook:       "#00695C", // teal
	EdgeDirect:     "#424242", // dark gray
	EdgeUnresolved: "#FC3D21", // NASA red

	StubFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
