package config

import "strings"

const SourceFileExt = ".lua"

// SourceFileExtensions are all recognized source file extensions
var SourceFileExtensions = []string{".lua", ".luna"}

// Version is the interpreter version reported by the CLI.
const Version = "0.4.0"

// Dialect selects which language-era features are legal.
type Dialect int

const (
	Lua52 Dialect = 52
	Lua53 Dialect = 53
	Lua54 Dialect = 54
	Lua55 Dialect = 55

	// DefaultDialect is the dialect used when none is configured.
	// Error messages are only tagged with the dialect when it differs.
	DefaultDialect = Lua54
)

// Name returns the display name used in diagnostics, e.g. "Lua 5.4".
func (d Dialect) Name() string {
	switch d {
	case Lua52:
		return "Lua 5.2"
	case Lua53:
		return "Lua 5.3"
	case Lua54:
		return "Lua 5.4"
	case Lua55:
		return "Lua 5.5"
	}
	return "Lua ?"
}

// String implements fmt.Stringer.
func (d Dialect) String() string { return d.Name() }

// Valid reports whether d is a known dialect.
func (d Dialect) Valid() bool {
	return d == Lua52 || d == Lua53 || d == Lua54 || d == Lua55
}

// SupportsBitwise reports whether &, |, ~, <<, >> and // are legal.
func (d Dialect) SupportsBitwise() bool { return d >= Lua53 }

// SupportsAttributes reports whether <const> and <close> are legal.
func (d Dialect) SupportsAttributes() bool { return d >= Lua54 }

// LeFallsBackToLt reports whether a missing __le is emulated with not __lt(b, a).
// Lua 5.4 removed the fallback.
func (d Dialect) LeFallsBackToLt() bool { return d < Lua54 }

// ParseDialect accepts "5.3", "53", "lua53", "Lua 5.3" and similar spellings.
func ParseDialect(s string) (Dialect, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "lua")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	switch s {
	case "52":
		return Lua52, true
	case "53":
		return Lua53, true
	case "54", "", "latest":
		return Lua54, true
	case "55":
		return Lua55, true
	}
	return 0, false
}

// Manual references cited by dialect gating errors.
const (
	ManualBitwise   = "Lua 5.3 manual §3.4.2"
	ManualFloorDiv  = "Lua 5.3 manual §3.4.1"
	ManualAttribute = "Lua 5.4 manual §3.3.7"
)

// Well-known symbol names
const (
	EnvName     = "_ENV"
	VarArgsName = "..."
	SelfName    = "self"
	GlobalsName = "_G"
	VersionName = "_VERSION"
)

// Metamethod names
const (
	MetaIndex    = "__index"
	MetaNewIndex = "__newindex"
	MetaCall     = "__call"
	MetaAdd      = "__add"
	MetaSub      = "__sub"
	MetaMul      = "__mul"
	MetaDiv      = "__div"
	MetaMod      = "__mod"
	MetaPow      = "__pow"
	MetaUnm      = "__unm"
	MetaIDiv     = "__idiv"
	MetaBAnd     = "__band"
	MetaBOr      = "__bor"
	MetaBXor     = "__bxor"
	MetaShl      = "__shl"
	MetaShr      = "__shr"
	MetaBNot     = "__bnot"
	MetaConcat   = "__concat"
	MetaLen      = "__len"
	MetaEq       = "__eq"
	MetaLt       = "__lt"
	MetaLe       = "__le"
	MetaClose    = "__close"
	MetaPairs    = "__pairs"
	MetaIPairs   = "__ipairs"
	MetaToString = "__tostring"
	MetaName     = "__name"
	MetaMeta     = "__metatable"
	MetaIterator = "__iterator"
)

// MaxMetaChain bounds __index/__newindex table chains.
const MaxMetaChain = 100

// TrimSourceExt removes a recognized source extension from a file name.
func TrimSourceExt(name string) string {
	for _, ext := range SourceFileExtensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}
