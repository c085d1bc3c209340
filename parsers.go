package tornago

import (
	"strconv"
	"strings"
	"time"
)

// opParser labels errors raised while parsing or unparsing a config value.
const opParser = "ConfigParser"

// configTypeTag names the type tags GETINFO config/names reports for each
// configuration key (e.g. "SocksPort Port", "ExitPolicy LineList").
type configTypeTag string

// Tag values recognized by the type parser table.
const (
	tagBool             configTypeTag = "Bool"
	tagInt              configTypeTag = "Int"
	tagPort             configTypeTag = "Port"
	tagTimeInterval     configTypeTag = "TimeInterval"
	tagTimeMsecInterval configTypeTag = "TimeMsecInterval"
	tagDataSize         configTypeTag = "DataSize"
	tagFloat            configTypeTag = "Float"
	tagTime             configTypeTag = "Time"
	tagCommaList        configTypeTag = "CommaList"
	tagRouterList       configTypeTag = "RouterList"
	tagLineList         configTypeTag = "LineList"
	tagString           configTypeTag = "String"
	tagFilename         configTypeTag = "Filename"
	tagDependant        configTypeTag = "Dependant"
)

// valueParser converts between a config key's wire string representation and
// a Go value, satisfying parse(unparse(v)) == v for every value it produces.
type valueParser interface {
	// Parse decodes a GETCONF/torrc value into a typed Go value.
	Parse(raw string) (any, error)
	// Unparse encodes a typed Go value back into its wire representation.
	Unparse(value any) (string, error)
	// Mutable reports whether SETCONF may write this type (false for Dependant).
	Mutable() bool
}

// parserTable maps every recognized type tag to its valueParser.
var parserTable = map[configTypeTag]valueParser{
	tagBool:             boolParser{},
	tagInt:               intParser{},
	tagPort:              portParser{},
	tagTimeInterval:      timeIntervalParser{unit: time.Second},
	tagTimeMsecInterval:  timeIntervalParser{unit: time.Millisecond},
	tagDataSize:          dataSizeParser{},
	tagFloat:             floatParser{},
	tagTime:              timeParser{},
	tagCommaList:         listParser{},
	tagRouterList:        listParser{},
	tagLineList:          lineListParser{},
	tagString:            stringParser{},
	tagFilename:          stringParser{},
	tagDependant:         dependantParser{},
}

// parserFor looks up the parser for tag, defaulting unrecognized tags to a
// plain string so an unfamiliar Tor release degrades gracefully instead of
// failing config bootstrap entirely.
func parserFor(tag string) valueParser {
	if p, ok := parserTable[configTypeTag(tag)]; ok {
		return p
	}
	return stringParser{}
}

type boolParser struct{}

func (boolParser) Parse(raw string) (any, error) {
	switch raw {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return nil, newError(ErrValidationError, opParser, "invalid Bool value: "+raw, nil)
	}
}

func (boolParser) Unparse(value any) (string, error) {
	b, ok := value.(bool)
	if !ok {
		return "", newError(ErrValidationError, opParser, "Bool value must be bool", nil)
	}
	if b {
		return "1", nil
	}
	return "0", nil
}

func (boolParser) Mutable() bool { return true }

type intParser struct{}

func (intParser) Parse(raw string) (any, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newError(ErrValidationError, opParser, "invalid Int value: "+raw, err)
	}
	return v, nil
}

func (intParser) Unparse(value any) (string, error) {
	v, ok := value.(int64)
	if !ok {
		return "", newError(ErrValidationError, opParser, "Int value must be int64", nil)
	}
	return strconv.FormatInt(v, 10), nil
}

func (intParser) Mutable() bool { return true }

type portParser struct{}

func (portParser) Parse(raw string) (any, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > 65535 {
		return nil, newError(ErrValidationError, opParser, "invalid Port value: "+raw, err)
	}
	return v, nil
}

func (portParser) Unparse(value any) (string, error) {
	v, ok := value.(int)
	if !ok || v < 0 || v > 65535 {
		return "", newError(ErrValidationError, opParser, "Port value must be an int in [0,65535]", nil)
	}
	return strconv.Itoa(v), nil
}

func (portParser) Mutable() bool { return true }

// timeIntervalParser parses bare integers scaled by unit (seconds for
// TimeInterval, milliseconds for TimeMsecInterval). Tor also accepts
// suffixed forms like "10 seconds"; those are accepted on Parse but always
// unparsed back to the canonical bare-integer form.
type timeIntervalParser struct {
	unit time.Duration
}

func (p timeIntervalParser) Parse(raw string) (any, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, newError(ErrValidationError, opParser, "empty time interval", nil)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, newError(ErrValidationError, opParser, "invalid time interval: "+raw, err)
	}
	unit := p.unit
	if len(fields) > 1 {
		units := map[string]time.Duration{"msec": time.Millisecond, "millisecond": time.Millisecond,
			"sec": time.Second, "second": time.Second, "min": time.Minute, "minute": time.Minute,
			"hour": time.Hour, "day": 24 * time.Hour, "week": 7 * 24 * time.Hour}
		u, ok := units[strings.TrimSuffix(strings.ToLower(fields[1]), "s")]
		if !ok {
			return nil, newError(ErrValidationError, opParser, "invalid time interval unit: "+raw, nil)
		}
		unit = u
	}
	return time.Duration(n) * unit, nil
}

func (p timeIntervalParser) Unparse(value any) (string, error) {
	d, ok := value.(time.Duration)
	if !ok {
		return "", newError(ErrValidationError, opParser, "time interval value must be time.Duration", nil)
	}
	return strconv.FormatInt(int64(d/p.unit), 10), nil
}

func (timeIntervalParser) Mutable() bool { return true }

// dataSizeParser parses a bare byte count, optionally suffixed with
// KB/MB/GB/TB (binary, matching Tor's config_parse_memunit).
type dataSizeParser struct{}

var dataSizeSuffixes = []struct {
	suffix string
	scale  int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

func (dataSizeParser) Parse(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	for _, s := range dataSizeSuffixes {
		if strings.HasSuffix(strings.ToUpper(trimmed), s.suffix) {
			numPart := strings.TrimSpace(trimmed[:len(trimmed)-len(s.suffix)])
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return nil, newError(ErrValidationError, opParser, "invalid DataSize value: "+raw, err)
			}
			return n * s.scale, nil
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, newError(ErrValidationError, opParser, "invalid DataSize value: "+raw, err)
	}
	return n, nil
}

func (dataSizeParser) Unparse(value any) (string, error) {
	v, ok := value.(int64)
	if !ok {
		return "", newError(ErrValidationError, opParser, "DataSize value must be int64 bytes", nil)
	}
	return strconv.FormatInt(v, 10), nil
}

func (dataSizeParser) Mutable() bool { return true }

type floatParser struct{}

func (floatParser) Parse(raw string) (any, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, newError(ErrValidationError, opParser, "invalid Float value: "+raw, err)
	}
	return v, nil
}

func (floatParser) Unparse(value any) (string, error) {
	v, ok := value.(float64)
	if !ok {
		return "", newError(ErrValidationError, opParser, "Float value must be float64", nil)
	}
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

func (floatParser) Mutable() bool { return true }

// timeParser parses Tor's ISO-ish "YYYY-MM-DD HH:MM:SS" timestamp format.
type timeParser struct{}

const timeLayout = "2006-01-02 15:04:05"

func (timeParser) Parse(raw string) (any, error) {
	t, err := time.ParseInLocation(timeLayout, raw, time.UTC)
	if err != nil {
		return nil, newError(ErrValidationError, opParser, "invalid Time value: "+raw, err)
	}
	return t, nil
}

func (timeParser) Unparse(value any) (string, error) {
	t, ok := value.(time.Time)
	if !ok {
		return "", newError(ErrValidationError, opParser, "Time value must be time.Time", nil)
	}
	return t.UTC().Format(timeLayout), nil
}

func (timeParser) Mutable() bool { return true }

// listParser handles CommaList and RouterList alike: a comma-joined
// list of tokens with no reordering. Equality for round-trip purposes is by
// element sequence, not by whitespace trivia.
type listParser struct{}

func (listParser) Parse(raw string) (any, error) {
	if raw == "" {
		return []string{}, nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts, nil
}

func (listParser) Unparse(value any) (string, error) {
	list, ok := value.([]string)
	if !ok {
		return "", newError(ErrValidationError, opParser, "list value must be []string", nil)
	}
	return strings.Join(list, ","), nil
}

func (listParser) Mutable() bool { return true }

// lineListParser handles LineList: one element per line, split/joined on
// "\n" rather than ",". Distinct from listParser because LineList values
// (HiddenServicePort mappings, ExitPolicy rules, Log targets, ...) routinely
// contain commas of their own, which listParser would mis-split.
type lineListParser struct{}

func (lineListParser) Parse(raw string) (any, error) {
	if raw == "" {
		return []string{}, nil
	}
	parts := strings.Split(raw, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts, nil
}

func (lineListParser) Unparse(value any) (string, error) {
	list, ok := value.([]string)
	if !ok {
		return "", newError(ErrValidationError, opParser, "list value must be []string", nil)
	}
	return strings.Join(list, "\n"), nil
}

func (lineListParser) Mutable() bool { return true }

type stringParser struct{}

func (stringParser) Parse(raw string) (any, error)      { return raw, nil }
func (stringParser) Unparse(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", newError(ErrValidationError, opParser, "String value must be string", nil)
	}
	return s, nil
}
func (stringParser) Mutable() bool { return true }

// dependantParser handles values Tor derives from other keys and never
// accepts via SETCONF (e.g. computed directory fingerprints).
type dependantParser struct{}

func (dependantParser) Parse(raw string) (any, error) { return raw, nil }
func (dependantParser) Unparse(any) (string, error) {
	return "", newError(ErrValidationError, opParser, "Dependant values are read-only", nil)
}
func (dependantParser) Mutable() bool { return false }

// joinConfValues reassembles the raw wire value Config.Get's parser expects
// from GetConf's (possibly multi-element, for repeated keys) response slice,
// joining on the same separator the tag's parser splits on.
func joinConfValues(tag configTypeTag, values []string) string {
	switch tag {
	case tagLineList:
		return strings.Join(values, "\n")
	case tagCommaList, tagRouterList:
		return strings.Join(values, ",")
	default:
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
}

// roundTrip parses raw with the parser for tag and returns its re-serialized
// form, so a caller can compare the result with raw to check the round trip.
func roundTrip(tag configTypeTag, raw string) (string, error) {
	p := parserFor(string(tag))
	v, err := p.Parse(raw)
	if err != nil {
		return "", err
	}
	out, err := p.Unparse(v)
	if err != nil {
		return "", err
	}
	return out, nil
}
