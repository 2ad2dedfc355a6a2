package condition

import "regexp"

// Literal matches when the value equals Value. It is the form used when a
// condition value is not an operator object.
type Literal struct{ Value any }

func (Literal) Op() Op           { return OpLiteral }
func (p Literal) Test(v any) bool { return present(v) && matchesEqual(v, p.Value) }

// Eq is the explicit form of Literal.
type Eq struct{ Value any }

func (Eq) Op() Op           { return OpEq }
func (p Eq) Test(v any) bool { return present(v) && matchesEqual(v, p.Value) }

// Ne holds for an absent path and for any present value not equal to Value.
type Ne struct{ Value any }

func (Ne) Op() Op { return OpNe }
func (p Ne) Test(v any) bool {
	if !present(v) {
		return true
	}
	return !matchesEqual(v, p.Value)
}

// Gt holds when the value orders strictly after Value.
type Gt struct{ Value any }

func (Gt) Op() Op { return OpGt }
func (p Gt) Test(v any) bool {
	c, ok := compareOrdered(v, p.Value)
	return ok && c > 0
}

// Gte holds when the value orders at or after Value.
type Gte struct{ Value any }

func (Gte) Op() Op { return OpGte }
func (p Gte) Test(v any) bool {
	c, ok := compareOrdered(v, p.Value)
	return ok && c >= 0
}

// Lt holds when the value orders strictly before Value.
type Lt struct{ Value any }

func (Lt) Op() Op { return OpLt }
func (p Lt) Test(v any) bool {
	c, ok := compareOrdered(v, p.Value)
	return ok && c < 0
}

// Lte holds when the value orders at or before Value.
type Lte struct{ Value any }

func (Lte) Op() Op { return OpLte }
func (p Lte) Test(v any) bool {
	c, ok := compareOrdered(v, p.Value)
	return ok && c <= 0
}

// In holds when the value equals any member of Values.
type In struct{ Values []any }

func (In) Op() Op { return OpIn }
func (p In) Test(v any) bool {
	if !present(v) {
		return false
	}
	for _, want := range p.Values {
		if matchesEqual(v, want) {
			return true
		}
	}
	return false
}

// Nin holds for an absent path and for any present value outside Values.
type Nin struct{ Values []any }

func (Nin) Op() Op { return OpNin }
func (p Nin) Test(v any) bool {
	if !present(v) {
		return true
	}
	return !In(p).Test(v)
}

// Regex holds when the value is a string matching Pattern.
type Regex struct {
	Pattern *regexp.Regexp
	Options string
}

func (Regex) Op() Op { return OpRegex }
func (p Regex) Test(v any) bool {
	s, ok := v.(string)
	return ok && p.Pattern.MatchString(s)
}
