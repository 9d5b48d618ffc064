package track

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned when a key string is neither Camelot nor standard notation.
var ErrInvalidKey = errors.New("invalid key")

// Mode identifies whether a key is on the "A" (minor) or "B" (major) ring of the Camelot wheel.
type Mode string

const (
	ModeA Mode = "A"
	ModeB Mode = "B"
)

// Key is a position on the Camelot wheel such as 8A. The zero value means "no key".
type Key struct {
	Number int
	Mode   Mode
}

// maxDistance is larger than any distance between two real keys (6 steps + ring change).
const maxDistance = 13

var pitchClasses = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// ParseKey accepts Camelot notation ("8A", "12b") and standard notation
// ("Am", "F#", "Dbmin", "E minor") and returns the Camelot key.
func ParseKey(input string) (Key, error) {
	cleaned := strings.Join(strings.Fields(input), "")
	if cleaned == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		return parseCamelot(cleaned, input)
	}
	return parseStandard(cleaned, input)
}

func parseCamelot(cleaned, input string) (Key, error) {
	upper := strings.ToUpper(cleaned)
	if len(upper) < 2 || len(upper) > 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, input)
	}
	mode := Mode(upper[len(upper)-1:])
	if mode != ModeA && mode != ModeB {
		return Key{}, fmt.Errorf("%w: bad mode in %q", ErrInvalidKey, input)
	}
	number, err := strconv.Atoi(upper[:len(upper)-1])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if number < 1 || number > 12 {
		return Key{}, fmt.Errorf("%w: number out of range: %d", ErrInvalidKey, number)
	}
	return Key{Number: number, Mode: mode}, nil
}

func parseStandard(cleaned, input string) (Key, error) {
	pc, ok := pitchClasses[strings.ToUpper(cleaned[:1])[0]]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, input)
	}
	rest := cleaned[1:]
	switch {
	case strings.HasPrefix(rest, "#"):
		pc, rest = pc+1, rest[1:]
	case strings.HasPrefix(rest, "♯"):
		pc, rest = pc+1, strings.TrimPrefix(rest, "♯")
	case strings.HasPrefix(rest, "♭"):
		pc, rest = pc+11, strings.TrimPrefix(rest, "♭")
	case strings.HasPrefix(rest, "b") && !strings.HasPrefix(strings.ToLower(rest), "maj"):
		pc, rest = pc+11, rest[1:]
	}
	pc %= 12

	var minor bool
	switch strings.ToLower(rest) {
	case "", "maj", "major":
	case "min", "minor":
		minor = true
	default:
		if rest != "m" {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, input)
		}
		minor = true
	}

	mode := ModeB
	if minor {
		// same wheel number as the relative major
		pc = (pc + 3) % 12
		mode = ModeA
	}
	fifths := pc * 7 % 12
	return Key{Number: (fifths+7)%12 + 1, Mode: mode}, nil
}

// MustParseKey is ParseKey for literals; it panics on bad input.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Known reports whether the key was assigned.
func (k Key) Known() bool {
	return k.Number >= 1 && k.Number <= 12 && (k.Mode == ModeA || k.Mode == ModeB)
}

func (k Key) String() string {
	if !k.Known() {
		return ""
	}
	return fmt.Sprintf("%d%s", k.Number, string(k.Mode))
}

// Distance is the number of wheel steps between two keys, plus one for a ring change.
// Unknown keys are farther away than any real pair.
func (k Key) Distance(o Key) int {
	if !k.Known() || !o.Known() {
		return maxDistance
	}
	d := k.Number - o.Number
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	if k.Mode != o.Mode {
		d++
	}
	return d
}

// Compatible reports whether a mix between k and o is harmonic: same key,
// relative major/minor, or one step around the same ring.
func (k Key) Compatible(o Key) bool {
	return k.Distance(o) <= 1
}

// Neighbors returns the harmonically compatible keys of k, excluding k itself.
func (k Key) Neighbors() []Key {
	if !k.Known() {
		return nil
	}
	other := ModeA
	if k.Mode == ModeA {
		other = ModeB
	}
	return []Key{
		{Number: k.Number%12 + 1, Mode: k.Mode},
		{Number: (k.Number+10)%12 + 1, Mode: k.Mode},
		{Number: k.Number, Mode: other},
	}
}
