// Package cellid defines the identity of a physical antenna/sector in a
// cellular network.
//
// An antenna is named by a Cell Global Identity (CGI) in GSM and UMTS
// networks, or by an E-UTRAN Cell Global Identity (eCGI) in LTE and NR
// networks. Both start with a Public Land Mobile Network (PLMN) code, the
// mcc-mnc pair identifying the operator. A CGI then carries a Location Area
// Code (LAC) and a Cell Identifier (CI); an eCGI carries a single E-UTRAN
// Cell Identifier (ECI) instead.
//
// Identity is a plain comparable value type: it can be used directly as a
// map key and compared with ==. Which of the two identifier shapes is
// populated follows from the radio technology, so equality never confuses a
// missing LAC/CI with a zero one.
package cellid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Radio is the radio access technology of a cell.
type Radio uint8

const (
	RadioUnknown Radio = iota
	GSM
	UMTS
	LTE
	NR
)

// String returns the canonical upper-case name of the radio technology.
func (r Radio) String() string {
	switch r {
	case GSM:
		return "GSM"
	case UMTS:
		return "UMTS"
	case LTE:
		return "LTE"
	case NR:
		return "NR"
	default:
		return "UNKNOWN"
	}
}

// UsesCGI reports whether cells of this radio technology are identified by
// a lac/ci pair. LTE and NR cells use an eci instead.
func (r Radio) UsesCGI() bool {
	return r == GSM || r == UMTS
}

// ParseRadio converts a radio technology name to a Radio. Matching is
// case-insensitive and the generation aliases 2G/3G/4G/5G found in common
// antenna dumps are accepted.
func ParseRadio(s string) (Radio, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GSM", "2G":
		return GSM, nil
	case "UMTS", "3G":
		return UMTS, nil
	case "LTE", "4G":
		return LTE, nil
	case "NR", "5G":
		return NR, nil
	default:
		return RadioUnknown, fmt.Errorf("unsupported radio technology: %q", s)
	}
}

// Identity names a single antenna/sector across time. The zero value is not
// a valid identity; use NewGSM, NewUMTS, NewLTE, NewNR or Parse.
type Identity struct {
	radio Radio
	mcc   int
	mnc   int
	lac   int // populated only when radio.UsesCGI()
	ci    int // populated only when radio.UsesCGI()
	eci   int // populated only for LTE/NR
}

// NewGSM builds the identity of a GSM cell from its CGI components.
func NewGSM(mcc, mnc, lac, ci int) Identity {
	return Identity{radio: GSM, mcc: mcc, mnc: mnc, lac: lac, ci: ci}
}

// NewUMTS builds the identity of a UMTS cell. The ci may be a "full CI",
// the concatenation of the Radio Network Controller id and the cell id, as
// reported by e.g. Android; RNC recovers the controller part.
func NewUMTS(mcc, mnc, lac, ci int) Identity {
	return Identity{radio: UMTS, mcc: mcc, mnc: mnc, lac: lac, ci: ci}
}

// NewLTE builds the identity of an LTE cell from its eCGI components.
func NewLTE(mcc, mnc, eci int) Identity {
	return Identity{radio: LTE, mcc: mcc, mnc: mnc, eci: eci}
}

// NewNR builds the identity of an NR cell from its eCGI components.
func NewNR(mcc, mnc, eci int) Identity {
	return Identity{radio: NR, mcc: mcc, mnc: mnc, eci: eci}
}

// New builds an identity for the given radio technology, selecting the
// identifier shape the technology requires. GSM and UMTS take lac and ci;
// LTE and NR take eci. The unused arguments must be zero.
func New(radio Radio, mcc, mnc, lac, ci, eci int) (Identity, error) {
	switch radio {
	case GSM, UMTS:
		if eci != 0 {
			return Identity{}, fmt.Errorf("%s identity cannot carry an eci", radio)
		}
		return Identity{radio: radio, mcc: mcc, mnc: mnc, lac: lac, ci: ci}, nil
	case LTE, NR:
		if lac != 0 || ci != 0 {
			return Identity{}, fmt.Errorf("%s identity cannot carry a lac/ci pair", radio)
		}
		return Identity{radio: radio, mcc: mcc, mnc: mnc, eci: eci}, nil
	default:
		return Identity{}, fmt.Errorf("unsupported radio technology: %d", radio)
	}
}

// Radio returns the radio access technology.
func (id Identity) Radio() Radio { return id.radio }

// MCC returns the Mobile Country Code (3 digits).
func (id Identity) MCC() int { return id.mcc }

// MNC returns the Mobile Network Code (2 digits).
func (id Identity) MNC() int { return id.mnc }

// CGI returns the lac/ci pair of a GSM or UMTS cell. ok is false for LTE
// and NR cells, which are identified by an eci.
func (id Identity) CGI() (lac, ci int, ok bool) {
	if !id.radio.UsesCGI() {
		return 0, 0, false
	}
	return id.lac, id.ci, true
}

// ECI returns the E-UTRAN cell identifier of an LTE or NR cell. ok is false
// for GSM and UMTS cells.
func (id Identity) ECI() (eci int, ok bool) {
	if id.radio != LTE && id.radio != NR {
		return 0, false
	}
	return id.eci, true
}

// RNC returns the Radio Network Controller id embedded in the full CI of a
// UMTS cell (the upper bits above the 16-bit cell id).
func (id Identity) RNC() (int, bool) {
	if id.radio != UMTS {
		return 0, false
	}
	return id.ci >> 16, true
}

// PLMN formats the operator part of the identity as "mcc-mnc".
func (id Identity) PLMN() string {
	return fmt.Sprintf("%d-%d", id.mcc, id.mnc)
}

// String formats the identity as a spec string, e.g. "GSM/204-8-1234-5678"
// or "LTE/204-8-66715649". Parse accepts the same form.
func (id Identity) String() string {
	if id.radio.UsesCGI() {
		return fmt.Sprintf("%s/%d-%d-%d-%d", id.radio, id.mcc, id.mnc, id.lac, id.ci)
	}
	return fmt.Sprintf("%s/%d-%d-%d", id.radio, id.mcc, id.mnc, id.eci)
}

// IsZero reports whether the identity is the zero value.
func (id Identity) IsZero() bool { return id == Identity{} }

// IsValid reports whether all components are within the ranges the
// standards allow: mcc 1-999, mnc 1-99, lac and ci 16 bits, eci between
// 0x100 (the smallest value with a non-empty eNodeB id) and 0xFFFFFFF.
func (id Identity) IsValid() bool {
	if id.mcc <= 0 || id.mcc > 999 || id.mnc <= 0 || id.mnc > 99 {
		return false
	}
	switch id.radio {
	case GSM:
		return id.lac >= 0 && id.lac <= 0xFFFF && id.ci >= 0 && id.ci <= 0xFFFF
	case UMTS:
		// UMTS full CIs embed the RNC above bit 16.
		return id.lac >= 0 && id.lac <= 0xFFFF && id.ci >= 0
	case LTE, NR:
		return id.eci >= 0x100 && id.eci <= 0xFFFFFFF
	default:
		return false
	}
}

// Compare orders identities lexicographically by (radio, mcc, mnc, lac, ci,
// eci). It returns -1, 0 or +1 and gives every index over identities a
// stable, deterministic order.
func Compare(a, b Identity) int {
	ka := [6]int{int(a.radio), a.mcc, a.mnc, a.lac, a.ci, a.eci}
	kb := [6]int{int(b.radio), b.mcc, b.mnc, b.lac, b.ci, b.eci}
	for i := range ka {
		if ka[i] != kb[i] {
			if ka[i] < kb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

var specPattern = regexp.MustCompile(
	`^(?P<radio>[a-zA-Z0-9]+)/(?P<mcc>[0-9]+)-(?P<mnc>[0-9]+)-(?:(?P<lac>[0-9]+)-(?P<ci>[0-9]+)|(?P<eci>[0-9]+))$`)

// Parse converts a spec string produced by String back into an Identity.
// The radio prefix is mandatory: it decides whether the trailing digits are
// a lac-ci pair or an eci.
func Parse(spec string) (Identity, error) {
	m := specPattern.FindStringSubmatch(spec)
	if m == nil {
		return Identity{}, fmt.Errorf("malformed cell identity: %q", spec)
	}
	group := func(name string) int {
		v := m[specPattern.SubexpIndex(name)]
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}

	radio, err := ParseRadio(m[specPattern.SubexpIndex("radio")])
	if err != nil {
		return Identity{}, err
	}
	mcc, mnc := group("mcc"), group("mnc")

	if lacStr := m[specPattern.SubexpIndex("lac")]; lacStr != "" {
		if !radio.UsesCGI() {
			return Identity{}, fmt.Errorf("%s identity %q cannot carry a lac-ci pair", radio, spec)
		}
		return Identity{radio: radio, mcc: mcc, mnc: mnc, lac: group("lac"), ci: group("ci")}, nil
	}
	if radio.UsesCGI() {
		return Identity{}, fmt.Errorf("%s identity %q requires a lac-ci pair", radio, spec)
	}
	return Identity{radio: radio, mcc: mcc, mnc: mnc, eci: group("eci")}, nil
}
