package schema

// Narrowing describes how a field type change can lose stored data.
type Narrowing int

const (
	// Lossless changes keep every value (widening, same type, nullability relaxed).
	Lossless Narrowing = iota
	// Length: character data longer than the new limit would be cut.
	Length
	// Numeric: values outside the new numeric range or scale would be cut.
	Numeric
	// Nulls: existing NULLs cannot be stored in the new NOT NULL column.
	Nulls
	// Incompatible kinds (e.g. text to int) are never silently converted.
	Incompatible
)

func (n Narrowing) String() string {
	switch n {
	case Lossless:
		return "lossless"
	case Length:
		return "length"
	case Numeric:
		return "numeric"
	case Nulls:
		return "nulls"
	default:
		return "incompatible"
	}
}

// Classify reports the most severe way changing old into new narrows the column.
// Nullability tightening is reported only when no type narrowing applies.
func Classify(old, new Field) Narrowing {
	switch {
	case isString(old.Kind) && isString(new.Kind):
		if new.Kind == Char && (old.Kind == Text || new.MaxLength < old.MaxLength) {
			return Length
		}
	case isInteger(old.Kind) && isInteger(new.Kind):
		if old.Kind == BigInt && new.Kind == Int {
			return Numeric
		}
	case old.Kind == Decimal && new.Kind == Decimal:
		if new.Precision-new.Scale < old.Precision-old.Scale || new.Scale < old.Scale {
			return Numeric
		}
	case isInteger(old.Kind) && new.Kind == Decimal:
		if new.Precision-new.Scale < intDigits(old.Kind) {
			return Numeric
		}
	case old.Kind == Decimal && isInteger(new.Kind):
		return Numeric
	case old.Kind == new.Kind:
	case old.Kind == Bool && isInteger(new.Kind):
	case isString(new.Kind) && !isString(old.Kind):
		// numbers, booleans and timestamps render into text; char may be too short
		if new.Kind == Char {
			return Length
		}
	default:
		return Incompatible
	}
	if old.Null && !new.Null {
		return Nulls
	}
	return Lossless
}

func isString(k Kind) bool  { return k == Char || k == Text }
func isInteger(k Kind) bool { return k == Int || k == BigInt || k == FK }

func intDigits(k Kind) int {
	if k == Int {
		return 10
	}
	return 19
}
