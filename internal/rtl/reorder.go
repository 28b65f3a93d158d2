package rtl

import (
	"golang.org/x/text/unicode/bidi"
)

// cluster is a base character with the combining marks that follow it.
// Clusters move as a unit during reordering so marks stay on their base.
type cluster struct {
	runes []rune
	class bidi.Class
	level int
}

var mirrors = map[rune]rune{
	'(': ')', ')': '(',
	'[': ']', ']': '[',
	'{': '}', '}': '{',
	'<': '>', '>': '<',
	'«': '»', '»': '«',
	'‹': '›', '›': '‹',
}

// reorder converts one line from logical to visual order. It implements
// the parts of the bidi algorithm that matter for plain single-paragraph
// text: weak and neutral type resolution, implicit levels, reversal and
// bracket mirroring. Explicit embedding controls are removed.
func reorder(runes []rune) []rune {
	cl := clusters(runes)
	if len(cl) == 0 {
		return nil
	}

	para := 0
	for _, c := range cl {
		if c.class == bidi.L {
			break
		}
		if c.class == bidi.R || c.class == bidi.AL {
			para = 1
			break
		}
	}

	resolveWeak(cl, para)
	resolveNeutral(cl, para)

	maxLevel, lowestOdd := 0, 63
	for i := range cl {
		cl[i].level = implicitLevel(cl[i].class, para)
		if cl[i].level > maxLevel {
			maxLevel = cl[i].level
		}
		if cl[i].level%2 == 1 && cl[i].level < lowestOdd {
			lowestOdd = cl[i].level
		}
	}

	for lvl := maxLevel; lvl >= lowestOdd && lvl > 0; lvl-- {
		for i := 0; i < len(cl); {
			if cl[i].level < lvl {
				i++
				continue
			}
			j := i
			for j < len(cl) && cl[j].level >= lvl {
				j++
			}
			for a, b := i, j-1; a < b; a, b = a+1, b-1 {
				cl[a], cl[b] = cl[b], cl[a]
			}
			i = j
		}
	}

	out := make([]rune, 0, len(runes))
	for _, c := range cl {
		if c.level%2 == 1 {
			if m, ok := mirrors[c.runes[0]]; ok {
				c.runes[0] = m
			}
		}
		out = append(out, c.runes...)
	}
	return out
}

func clusters(runes []rune) []cluster {
	var cl []cluster
	for _, r := range runes {
		c := classOf(r)
		switch c {
		case bidi.BN, bidi.LRO, bidi.RLO, bidi.LRE, bidi.RLE, bidi.PDF, bidi.LRI, bidi.RLI, bidi.FSI, bidi.PDI:
			continue
		case bidi.NSM:
			if len(cl) > 0 {
				last := &cl[len(cl)-1]
				last.runes = append(last.runes, r)
				continue
			}
			c = bidi.ON
		}
		cl = append(cl, cluster{runes: []rune{r}, class: c})
	}
	return cl
}

func strongOf(level int) bidi.Class {
	if level%2 == 1 {
		return bidi.R
	}
	return bidi.L
}

func resolveWeak(cl []cluster, para int) {
	sos := strongOf(para)

	// European digits after Arabic letters become Arabic numbers.
	last := sos
	for i := range cl {
		switch cl[i].class {
		case bidi.L, bidi.R, bidi.AL:
			last = cl[i].class
		case bidi.EN:
			if last == bidi.AL {
				cl[i].class = bidi.AN
			}
		}
	}
	for i := range cl {
		if cl[i].class == bidi.AL {
			cl[i].class = bidi.R
		}
	}

	// A single separator between two numbers of the same kind joins them.
	for i := 1; i < len(cl)-1; i++ {
		prev, next := cl[i-1].class, cl[i+1].class
		switch cl[i].class {
		case bidi.ES:
			if prev == bidi.EN && next == bidi.EN {
				cl[i].class = bidi.EN
			}
		case bidi.CS:
			if prev == next && (prev == bidi.EN || prev == bidi.AN) {
				cl[i].class = prev
			}
		}
	}

	// Terminators such as % and currency signs stick to adjacent numbers.
	for i := 0; i < len(cl); {
		if cl[i].class != bidi.ET {
			i++
			continue
		}
		j := i
		for j < len(cl) && cl[j].class == bidi.ET {
			j++
		}
		if (i > 0 && cl[i-1].class == bidi.EN) || (j < len(cl) && cl[j].class == bidi.EN) {
			for k := i; k < j; k++ {
				cl[k].class = bidi.EN
			}
		}
		i = j
	}

	for i := range cl {
		switch cl[i].class {
		case bidi.ES, bidi.ET, bidi.CS:
			cl[i].class = bidi.ON
		}
	}

	last = sos
	for i := range cl {
		switch cl[i].class {
		case bidi.L, bidi.R:
			last = cl[i].class
		case bidi.EN:
			if last == bidi.L {
				cl[i].class = bidi.L
			}
		}
	}
}

// direction returns the strong direction a resolved class counts as when
// resolving neutrals. Numbers count as right-to-left.
func direction(c bidi.Class) (bidi.Class, bool) {
	switch c {
	case bidi.L:
		return bidi.L, true
	case bidi.R, bidi.EN, bidi.AN:
		return bidi.R, true
	}
	return 0, false
}

func resolveNeutral(cl []cluster, para int) {
	sos := strongOf(para)
	for i := 0; i < len(cl); {
		if _, ok := direction(cl[i].class); ok {
			i++
			continue
		}
		j := i
		for j < len(cl) {
			if _, ok := direction(cl[j].class); ok {
				break
			}
			j++
		}

		before, after := sos, sos
		if i > 0 {
			before, _ = direction(cl[i-1].class)
		}
		if j < len(cl) {
			after, _ = direction(cl[j].class)
		}
		d := sos
		if before == after {
			d = before
		}
		for k := i; k < j; k++ {
			cl[k].class = d
		}
		i = j
	}
}

func implicitLevel(c bidi.Class, para int) int {
	if para == 0 {
		switch c {
		case bidi.R:
			return 1
		case bidi.EN, bidi.AN:
			return 2
		}
		return 0
	}
	if c == bidi.R {
		return 1
	}
	return 2
}
