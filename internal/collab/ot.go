package collab

import "unicode/utf16"

// utf16Units returns the content as UTF-16 code units, the unit every
// Operation.Position/Length is measured in; utf16Len counts them (spec.md §3,
// resolving Open Question 2: UTF-16 code units, not byte offsets).
func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func utf16Len(s string) int {
	return len(utf16Units(s))
}

// tieBreak reports whether a should be considered to come "first" when a
// and b are concurrent inserts at the same position. Lexicographically
// smaller clientId wins (spec.md §4.3.4).
func tieBreak(aClientID, bClientID string) bool {
	return aClientID < bClientID
}

// transform computes T(a, b): the rewrite of operation a so that it can be
// applied after b has already been applied, per spec.md §4.3.4. b is never
// mutated. transform never touches document content directly - it only
// rewrites positions/lengths. The result is usually a single operation, but
// a delete whose range is split by a concurrent insert (see transformDelete)
// comes back as two, since a single Position+Length pair cannot describe two
// disjoint spans.
func transform(a, b Operation) []Operation {
	switch a.Kind {
	case OpInsert:
		return []Operation{transformInsert(a, b)}
	case OpDelete:
		return transformDelete(a, b)
	default:
		return []Operation{a}
	}
}

func transformInsert(a, b Operation) Operation {
	p1 := a.Position

	switch b.Kind {
	case OpInsert:
		p2 := b.Position
		bLen := utf16Len(b.Text)

		if p1 < p2 || (p1 == p2 && tieBreak(a.ClientID, b.ClientID)) {
			return a
		}

		a.Position = p1 + bLen
		return a

	case OpDelete:
		p2, l2 := b.Position, b.Length

		switch {
		case p1 <= p2:
			return a
		case p1 >= p2+l2:
			a.Position = p1 - l2
			return a
		default:
			a.Position = p2
			return a
		}

	default:
		return a
	}
}

// transformDelete rewrites a delete a against b. When b is an insert that
// lands strictly inside a's range, the spec's chosen policy is to shift the
// deleted region right rather than let it swallow the insert: the inserted
// text must survive, so a splits into two flanking deletes - one for the
// span before the insert, one for the span after it - with the inserted
// text preserved in between. The right-hand span is returned first: applied
// in that order, neither span's position needs adjusting for the other,
// since deleting text after a position never moves anything before it.
func transformDelete(a, b Operation) []Operation {
	p1, l1 := a.Position, a.Length

	switch b.Kind {
	case OpInsert:
		p2 := b.Position
		bLen := utf16Len(b.Text)

		switch {
		case p2 <= p1:
			a.Position = p1 + bLen
			return []Operation{a}
		case p2 >= p1+l1:
			return []Operation{a}
		default:
			left := a
			left.Position = p1
			left.Length = p2 - p1

			right := a
			right.Position = p2 + bLen
			right.Length = p1 + l1 - p2

			return []Operation{right, left}
		}

	case OpDelete:
		p2, l2 := b.Position, b.Length

		switch {
		case p1+l1 <= p2:
			return []Operation{a}
		case p1 >= p2+l2:
			a.Position = p1 - l2
			return []Operation{a}
		default:
			start := min(p1, p2)
			end := max(p1+l1, p2+l2) - l2
			newLen := end - start
			if newLen < 0 {
				newLen = 0
			}

			a.Position = start
			a.Length = newLen
			return []Operation{a}
		}

	default:
		return []Operation{a}
	}
}

// transformAgainstSeries folds transform leftward across every op applied
// since the client's baseVersion, per spec.md §4.3.3 step 4. The incoming
// op is usually rewritten in place, but a delete split by an intervening
// insert (see transformDelete) grows the result to two ops; each is carried
// forward through the remaining series independently.
func transformAgainstSeries(op Operation, series []Operation) []Operation {
	results := []Operation{op}
	for _, b := range series {
		if b.Kind == OpRetain {
			continue
		}
		next := make([]Operation, 0, len(results))
		for _, r := range results {
			next = append(next, transform(r, b)...)
		}
		results = next
	}
	return results
}

// applyOp mutates content by op and returns the new content. Retain never
// mutates content (spec.md §3).
func applyOp(content string, op Operation) (string, error) {
	units := utf16Units(content)

	switch op.Kind {
	case OpInsert:
		if op.Position < 0 || op.Position > len(units) {
			return content, errInvalidOp
		}
		insUnits := utf16Units(op.Text)
		merged := make([]uint16, 0, len(units)+len(insUnits))
		merged = append(merged, units[:op.Position]...)
		merged = append(merged, insUnits...)
		merged = append(merged, units[op.Position:]...)
		return string(utf16.Decode(merged)), nil

	case OpDelete:
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(units) {
			return content, errInvalidOp
		}
		merged := make([]uint16, 0, len(units)-op.Length)
		merged = append(merged, units[:op.Position]...)
		merged = append(merged, units[op.Position+op.Length:]...)
		return string(utf16.Decode(merged)), nil

	default:
		return content, nil
	}
}

// validateBounds checks an inbound op against the content length at the
// version it was transformed to (spec.md §4.3.3 step 3).
func validateBounds(op Operation, contentLen int) error {
	switch op.Kind {
	case OpInsert:
		if op.Position < 0 || op.Position > contentLen {
			return errInvalidOp
		}
		if op.Text == "" {
			return errInvalidOp
		}
	case OpDelete:
		if op.Position < 0 || op.Length <= 0 || op.Position+op.Length > contentLen {
			return errInvalidOp
		}
	}
	return nil
}
