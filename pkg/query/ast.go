package query

// Node is a node of the parsed filter tree.
type Node interface {
	node()
}

// BooleanOp joins two sub-queries.
type BooleanOp string

// Boolean operators
const (
	BoolAnd BooleanOp = "and"
	BoolOr  BooleanOp = "or"
	// BoolNot is binary: "a not b" means a AND NOT b.
	BoolNot BooleanOp = "not"
)

// Relation is a CQL relation between an index and a term.
type Relation string

// Relations
const (
	RelEq    Relation = "="
	RelExact Relation = "=="
	RelNe    Relation = "<>"
	RelLt    Relation = "<"
	RelGt    Relation = ">"
	RelLte   Relation = "<="
	RelGte   Relation = ">="
	RelAdj   Relation = "adj"
	RelAll   Relation = "all"
	RelAny   Relation = "any"
)

// BooleanNode combines two sub-queries.
type BooleanNode struct {
	Op    BooleanOp
	Left  Node
	Right Node
}

// ClauseNode is a single "index relation term" search clause.
type ClauseNode struct {
	Index    string
	Relation Relation
	Term     string
}

// AllRecordsNode matches every record (cql.allRecords=1).
type AllRecordsNode struct{}

func (*BooleanNode) node()    {}
func (*ClauseNode) node()     {}
func (*AllRecordsNode) node() {}

// SortKey is one sortBy key.
type SortKey struct {
	Index      string
	Descending bool
}

// Query is a parsed filter with optional sort keys. A nil Root matches all records.
type Query struct {
	Root Node
	Sort []SortKey
}
