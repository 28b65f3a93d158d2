package rtl

type joining uint8

const (
	nonJoining joining = iota
	rightJoining
	dualJoining
	joinCausing
	transparent
)

// forms holds the presentation forms of a letter in the order isolated,
// final, initial, medial. Right-joining letters have no initial or medial.
type forms [4]rune

const (
	isolated = iota
	final
	initial
	medial
)

const (
	lam  = 'ل'
	zwnj = '\u200C'
	zwj  = '\u200D'
)

var letterForms = map[rune]forms{
	'ء': {0xFE80, 0, 0, 0},
	'آ': {0xFE81, 0xFE82, 0, 0},
	'أ': {0xFE83, 0xFE84, 0, 0},
	'ؤ': {0xFE85, 0xFE86, 0, 0},
	'إ': {0xFE87, 0xFE88, 0, 0},
	'ئ': {0xFE89, 0xFE8A, 0xFE8B, 0xFE8C},
	'ا': {0xFE8D, 0xFE8E, 0, 0},
	'ب': {0xFE8F, 0xFE90, 0xFE91, 0xFE92},
	'ة': {0xFE93, 0xFE94, 0, 0},
	'ت': {0xFE95, 0xFE96, 0xFE97, 0xFE98},
	'ث': {0xFE99, 0xFE9A, 0xFE9B, 0xFE9C},
	'ج': {0xFE9D, 0xFE9E, 0xFE9F, 0xFEA0},
	'ح': {0xFEA1, 0xFEA2, 0xFEA3, 0xFEA4},
	'خ': {0xFEA5, 0xFEA6, 0xFEA7, 0xFEA8},
	'د': {0xFEA9, 0xFEAA, 0, 0},
	'ذ': {0xFEAB, 0xFEAC, 0, 0},
	'ر': {0xFEAD, 0xFEAE, 0, 0},
	'ز': {0xFEAF, 0xFEB0, 0, 0},
	'س': {0xFEB1, 0xFEB2, 0xFEB3, 0xFEB4},
	'ش': {0xFEB5, 0xFEB6, 0xFEB7, 0xFEB8},
	'ص': {0xFEB9, 0xFEBA, 0xFEBB, 0xFEBC},
	'ض': {0xFEBD, 0xFEBE, 0xFEBF, 0xFEC0},
	'ط': {0xFEC1, 0xFEC2, 0xFEC3, 0xFEC4},
	'ظ': {0xFEC5, 0xFEC6, 0xFEC7, 0xFEC8},
	'ع': {0xFEC9, 0xFECA, 0xFECB, 0xFECC},
	'غ': {0xFECD, 0xFECE, 0xFECF, 0xFED0},
	'ف': {0xFED1, 0xFED2, 0xFED3, 0xFED4},
	'ق': {0xFED5, 0xFED6, 0xFED7, 0xFED8},
	'ك': {0xFED9, 0xFEDA, 0xFEDB, 0xFEDC},
	'ل': {0xFEDD, 0xFEDE, 0xFEDF, 0xFEE0},
	'م': {0xFEE1, 0xFEE2, 0xFEE3, 0xFEE4},
	'ن': {0xFEE5, 0xFEE6, 0xFEE7, 0xFEE8},
	'ه': {0xFEE9, 0xFEEA, 0xFEEB, 0xFEEC},
	'و': {0xFEED, 0xFEEE, 0, 0},
	'ى': {0xFEEF, 0xFEF0, 0, 0},
	'ي': {0xFEF1, 0xFEF2, 0xFEF3, 0xFEF4},

	// Persian
	'ٱ': {0xFB50, 0xFB51, 0, 0},
	'پ': {0xFB56, 0xFB57, 0xFB58, 0xFB59},
	'چ': {0xFB7A, 0xFB7B, 0xFB7C, 0xFB7D},
	'ژ': {0xFB8A, 0xFB8B, 0, 0},
	'ک': {0xFB8E, 0xFB8F, 0xFB90, 0xFB91},
	'گ': {0xFB92, 0xFB93, 0xFB94, 0xFB95},
	'ۀ': {0xFBA4, 0xFBA5, 0, 0},
	'ی': {0xFBFC, 0xFBFD, 0xFBFE, 0xFBFF},
}

// lamAlef maps the alef following a lam to the ligature's isolated and
// final forms.
var lamAlef = map[rune][2]rune{
	'آ': {0xFEF5, 0xFEF6},
	'أ': {0xFEF7, 0xFEF8},
	'إ': {0xFEF9, 0xFEFA},
	'ا': {0xFEFB, 0xFEFC},
}

func joiningOf(r rune) joining {
	if isMark(r) {
		return transparent
	}
	switch r {
	case '\u0640', zwj:
		return joinCausing
	case 'ء':
		return nonJoining
	}
	f, ok := letterForms[r]
	if !ok {
		return nonJoining
	}
	if f[initial] == 0 {
		return rightJoining
	}
	return dualJoining
}

// isMark reports Arabic combining marks that are skipped when choosing
// contextual forms.
func isMark(r rune) bool {
	switch {
	case r >= 0x064B && r <= 0x065F:
		return true
	case r == 0x0670:
		return true
	case r >= 0x0610 && r <= 0x061A:
		return true
	case r >= 0x06D6 && r <= 0x06DC:
		return true
	case r >= 0x06DF && r <= 0x06E4:
		return true
	case r == 0x06E7 || r == 0x06E8:
		return true
	case r >= 0x06EA && r <= 0x06ED:
		return true
	}
	return false
}

func joinsToNext(j joining) bool { return j == dualJoining || j == joinCausing }

func joinsToPrev(j joining) bool {
	return j == dualJoining || j == rightJoining || j == joinCausing
}

// neighbour returns the index of the nearest non-mark rune from i in
// direction step, or -1.
func neighbour(runes []rune, i, step int) int {
	for j := i + step; j >= 0 && j < len(runes); j += step {
		if joiningOf(runes[j]) != transparent {
			return j
		}
	}
	return -1
}

func joiningAt(runes []rune, i int) joining {
	if i < 0 {
		return nonJoining
	}
	return joiningOf(runes[i])
}

// join replaces every letter with its contextual presentation form and
// merges lam-alef pairs.
func join(runes []rune) []rune {
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		jt := joiningOf(r)
		f, ok := letterForms[r]
		if !ok || jt == transparent {
			out = append(out, r)
			continue
		}

		prev := neighbour(runes, i, -1)
		next := neighbour(runes, i, 1)
		connectsPrev := joinsToPrev(jt) && joinsToNext(joiningAt(runes, prev))

		if r == lam && next >= 0 {
			if lig, ok := lamAlef[runes[next]]; ok {
				if connectsPrev {
					out = append(out, lig[1])
				} else {
					out = append(out, lig[0])
				}
				out = append(out, runes[i+1:next]...)
				i = next
				continue
			}
		}

		connectsNext := joinsToNext(jt) && joinsToPrev(joiningAt(runes, next))
		var form rune
		switch {
		case connectsPrev && connectsNext:
			form = f[medial]
		case connectsPrev:
			form = f[final]
		case connectsNext:
			form = f[initial]
		default:
			form = f[isolated]
		}
		if form == 0 {
			form = f[isolated]
		}
		out = append(out, form)
	}
	return out
}
