package props

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseOptions accepts either an options object
//
//	{"unique": true, "default": "uuid()", "relation": {"localField": ...}}
//
// or a list of option words
//
//	["unique", "optional(true)", "relation(parentHash, headers.hash)"]
func ParseOptions(raw json.RawMessage) (Options, error) {
	opts := Options{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return opts, nil
	}

	switch raw[0] {
	case '{':
		return parseOptionsObject(raw)
	case '[':
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return opts, fmt.Errorf("Invalid options %s: %s", raw, err.Error())
		}
		for _, word := range words {
			if err := parseOptionWord(&opts, word); err != nil {
				return opts, err
			}
		}
		return opts, nil
	case '"':
		var word string
		if err := json.Unmarshal(raw, &word); err != nil {
			return opts, err
		}
		return opts, parseOptionWord(&opts, word)
	}
	return opts, fmt.Errorf("Invalid options %s", raw)
}

func parseOptionsObject(raw json.RawMessage) (Options, error) {
	var obj map[string]json.RawMessage
	opts := Options{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return opts, fmt.Errorf("Invalid options %s: %s", raw, err.Error())
	}

	for key, value := range obj {
		var err error
		switch FieldProp(key) {
		case FieldPropUnique:
			err = json.Unmarshal(value, &opts.Unique)
		case FieldPropOptional:
			err = json.Unmarshal(value, &opts.Optional)
		case FieldPropIndex:
			err = json.Unmarshal(value, &opts.Index)
		case FieldPropDefault:
			opts.HasDefault = true
			err = json.Unmarshal(value, &opts.Default)
		case FieldPropRelation:
			opts.Relation = &RelationProp{}
			err = json.Unmarshal(value, opts.Relation)
		default:
			return opts, fmt.Errorf("%s is not a valid prop", key)
		}
		if err != nil {
			return opts, fmt.Errorf("Invalid value for prop %s: %s", key, err.Error())
		}
	}
	return opts, nil
}

func parseOptionWord(opts *Options, word string) error {
	word = strings.TrimSpace(word)
	name, arg, has_arg := word, "", false
	if idx := strings.IndexByte(word, '('); idx >= 0 {
		if !strings.HasSuffix(word, ")") {
			return fmt.Errorf("Invalid syntax: %s", word)
		}
		name, arg, has_arg = word[:idx], word[idx+1:len(word)-1], true
	}

	prop := FieldProp(strings.TrimSpace(name))
	if !prop.IsValid() {
		return fmt.Errorf("%s is not a valid prop", name)
	}

	parseFlag := func() (bool, error) {
		if !has_arg {
			return true, nil
		}
		v, err := strconv.ParseBool(strings.TrimSpace(arg))
		if err != nil {
			return false, fmt.Errorf("Invalid syntax: %s", word)
		}
		return v, nil
	}

	var err error
	switch prop {
	case FieldPropUnique:
		opts.Unique, err = parseFlag()
	case FieldPropOptional:
		opts.Optional, err = parseFlag()
	case FieldPropIndex:
		opts.Index, err = parseFlag()
	case FieldPropDefault:
		if !has_arg {
			return fmt.Errorf("Invalid syntax: %s", word)
		}
		opts.HasDefault = true
		opts.Default = parseDefaultArg(strings.TrimSpace(arg))
	case FieldPropRelation:
		local, table, field, rel_err := ParseRelationPropSafe(arg)
		if rel_err != nil {
			return rel_err
		}
		opts.Relation = &RelationProp{LocalField: local, ForeignTable: table, ForeignField: field}
	}
	return err
}

// literal json is used as is, anything else (eg. uuid()) is kept as a string
func parseDefaultArg(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}

func ParseRelationPropSafe(relation string) (string, string, string, error) {
	parts := strings.Split(relation, ",")
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("Invalid syntax: relation(%s)", relation)
	}
	local := strings.TrimSpace(parts[0])

	parsed_rel := strings.Split(parts[1], ".")
	if len(parsed_rel) != 2 {
		return "", "", "", fmt.Errorf("Invalid syntax: relation(%s)", relation)
	}
	table, field := strings.TrimSpace(parsed_rel[0]), strings.TrimSpace(parsed_rel[1])
	if len(local) == 0 || len(table) == 0 || len(field) == 0 {
		return "", "", "", fmt.Errorf("Invalid syntax: relation(%s)", relation)
	}
	return local, table, field, nil
}
