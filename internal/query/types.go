package query

// GraphNode is a node produced by the entity-mapping layer, pure data.
type GraphNode struct {
	Label      string
	ID         string
	Properties map[string]any
}

// GraphRelationship connects two nodes by their IDs, pure data.
type GraphRelationship struct {
	Type       string
	SourceID   string
	TargetID   string
	Properties map[string]any
}

// Statement is a built query: text plus the parameter map for transports
// that support server-side parameters. Single-entity statements inline their
// escaped literals and carry no parameters; batch statements push the entity
// collections through params to keep statement text bounded.
type Statement struct {
	Text   string
	Params map[string]any
}
