package evql

import (
	"strconv"
	"strings"
)

// EventRecord is an interface for events that can be matched.
// This decouples evql from the model package.
type EventRecord interface {
	GetTime() float64
	GetType() string
	GetLink() int64
	GetVehicle() int64
}

// Match evaluates the AST node against an EventRecord and returns true if
// it matches. A nil node matches everything.
func Match(node Node, ev EventRecord) bool {
	if node == nil {
		return true
	}

	switch n := node.(type) {
	case BinaryExpr:
		return evalBinary(n, ev)
	case MatchExpr:
		return evalMatch(n, ev)
	case NotExpr:
		return !Match(n.Expr, ev)
	default:
		return false
	}
}

func evalBinary(expr BinaryExpr, ev EventRecord) bool {
	left := Match(expr.Left, ev)
	right := Match(expr.Right, ev)

	switch expr.Op {
	case "AND":
		return left && right
	case "OR":
		return left || right
	default:
		return false
	}
}

func evalMatch(expr MatchExpr, ev EventRecord) bool {
	// Bare value: substring match on the event type
	if expr.Key == "" {
		return strings.Contains(strings.ToLower(ev.GetType()), strings.ToLower(expr.Value))
	}

	switch strings.ToLower(expr.Key) {
	case "type":
		return evalString(ev.GetType(), expr.Op, expr.Value)
	case "time", "ts":
		return evalNumber(ev.GetTime(), expr.Op, expr.Value)
	case "link", "link_id":
		return evalNumber(float64(ev.GetLink()), expr.Op, expr.Value)
	case "vehicle", "veh":
		return evalNumber(float64(ev.GetVehicle()), expr.Op, expr.Value)
	default:
		return false
	}
}

func evalString(field, op, value string) bool {
	switch op {
	case "=":
		return strings.EqualFold(field, value)
	case "!=":
		return !strings.EqualFold(field, value)
	case "CONTAINS":
		return strings.Contains(strings.ToLower(field), strings.ToLower(value))
	default:
		// Ordering operators have no meaning for type tags
		return false
	}
}

func evalNumber(field float64, op, value string) bool {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}

	switch op {
	case "=":
		return field == v
	case "!=":
		return field != v
	case "<":
		return field < v
	case "<=":
		return field <= v
	case ">":
		return field > v
	case ">=":
		return field >= v
	default:
		return false
	}
}
