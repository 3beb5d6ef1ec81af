package evql

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
}

// BinaryExpr represents a binary logical expression (AND, OR).
type BinaryExpr struct {
	Op    string // "AND" or "OR"
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// MatchExpr represents a single field condition.
// If Key is empty, the value is matched against the event type.
type MatchExpr struct {
	Key   string // Field name: "time", "type", "link", "vehicle". Empty for type contains.
	Value string // The value to compare against.
	Op    string // "=", "!=", "<", "<=", ">", ">=" or "CONTAINS"
}

func (MatchExpr) node() {}

// NotExpr represents a NOT expression that negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
