package byml

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/user/aflgo/pkg/aflerr"
)

// YAML tags for the types that plain YAML scalars cannot express. Untagged
// integers are S32 and untagged floats are F32.
const (
	tagU32 = "!u"
	tagS64 = "!l"
	tagU64 = "!ul"
	tagF64 = "!f64"
)

// maxAliasDepth bounds alias expansion in FromYAML.
const maxAliasDepth = 64

// ToYAML renders v as a YAML document. Hash keys are emitted sorted.
func ToYAML(v Value) ([]byte, error) {
	root, err := yamlNode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// stringNode emits s as !!str, or as base64 !!binary when s is not UTF-8,
// which YAML cannot carry.
func stringNode(s string) *yaml.Node {
	if utf8.ValidString(s) {
		return scalarNode("!!str", s)
	}
	return scalarNode("!!binary", base64.StdEncoding.EncodeToString([]byte(s)))
}

func yamlNode(v Value) (*yaml.Node, error) {
	switch v := v.(type) {
	case Hash:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := yamlNode(v[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, stringNode(k), child)
		}
		return n, nil
	case Array:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range v {
			child, err := yamlNode(elem)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, child)
		}
		return n, nil
	case String:
		return stringNode(string(v)), nil
	case Bool:
		return scalarNode("!!bool", strconv.FormatBool(bool(v))), nil
	case S32:
		return scalarNode("!!int", strconv.FormatInt(int64(v), 10)), nil
	case U32:
		return scalarNode(tagU32, strconv.FormatUint(uint64(v), 10)), nil
	case F32:
		return scalarNode("!!float", formatFloat(float64(v), 32)), nil
	case S64:
		return scalarNode(tagS64, strconv.FormatInt(int64(v), 10)), nil
	case U64:
		return scalarNode(tagU64, strconv.FormatUint(uint64(v), 10)), nil
	case F64:
		return scalarNode(tagF64, formatFloat(float64(v), 64)), nil
	case Null:
		return scalarNode("!!null", "null"), nil
	}
	return nil, fmt.Errorf("%w: cannot render %T as yaml", aflerr.ErrInvalidArgument, v)
}

// formatFloat always yields something YAML reads back as a float.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FromYAML parses a YAML document produced by ToYAML, or written by hand
// using the same tags.
func FromYAML(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", aflerr.ErrFormat, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, aflerr.Formatf("empty yaml document")
	}
	return fromYAMLNode(doc.Content[0], 0)
}

func fromYAMLNode(n *yaml.Node, aliasDepth int) (Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		if aliasDepth >= maxAliasDepth {
			return nil, aflerr.Formatf("yaml aliases nested deeper than %d", maxAliasDepth)
		}
		return fromYAMLNode(n.Alias, aliasDepth+1)
	case yaml.MappingNode:
		out := make(Hash, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, err := mappingKey(n.Content[i])
			if err != nil {
				return nil, err
			}
			v, err := fromYAMLNode(n.Content[i+1], aliasDepth)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make(Array, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := fromYAMLNode(c, aliasDepth)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		return fromYAMLScalar(n)
	}
	return nil, aflerr.Formatf("unsupported yaml node kind %d at line %d", n.Kind, n.Line)
}

func mappingKey(n *yaml.Node) (string, error) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!binary" {
		v, err := fromYAMLScalar(n)
		if err != nil {
			return "", err
		}
		return string(v.(String)), nil
	}
	return n.Value, nil
}

func fromYAMLScalar(n *yaml.Node) (Value, error) {
	wrap := func(err error) error {
		return aflerr.Formatf("line %d: bad %s value %q: %v", n.Line, n.ShortTag(), n.Value, err)
	}
	switch n.ShortTag() {
	case "!!str":
		return String(n.Value), nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return nil, wrap(err)
		}
		return String(b), nil
	case "!!null":
		return Null{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, wrap(err)
		}
		return Bool(b), nil
	case "!!int":
		v, err := integerValue(n.Value)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, wrap(err)
		}
		return F32(f), nil
	case tagU32:
		u, err := strconv.ParseUint(n.Value, 0, 32)
		if err != nil {
			return nil, wrap(err)
		}
		return U32(u), nil
	case tagS64:
		i, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, wrap(err)
		}
		return S64(i), nil
	case tagU64:
		u, err := strconv.ParseUint(n.Value, 0, 64)
		if err != nil {
			return nil, wrap(err)
		}
		return U64(u), nil
	case tagF64:
		var f float64
		plain := *n
		plain.Tag = "!!float"
		if err := plain.Decode(&f); err != nil {
			return nil, wrap(err)
		}
		return F64(f), nil
	}
	return nil, aflerr.Formatf("line %d: unsupported yaml tag %s", n.Line, n.ShortTag())
}

// integerValue picks the narrowest signed type that holds s, falling back
// to U64 above the int64 range.
func integerValue(s string) (Value, error) {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return S32(i), nil
		}
		return S64(i), nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, err
	}
	return U64(u), nil
}

// FromJSON parses JSON, tolerating comments and trailing commas. Integers
// map like untagged YAML integers; numbers with a fraction or exponent are
// F32.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", aflerr.ErrFormat, err)
	}
	return fromJSONValue(raw)
}

func fromJSONValue(raw any) (Value, error) {
	switch raw := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(raw), nil
	case string:
		return String(raw), nil
	case json.Number:
		s := raw.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := raw.Float64()
			if err != nil {
				return nil, aflerr.Formatf("bad number %s: %v", s, err)
			}
			return F32(f), nil
		}
		v, err := integerValue(s)
		if err != nil {
			return nil, aflerr.Formatf("bad number %s: %v", s, err)
		}
		return v, nil
	case []any:
		out := make(Array, 0, len(raw))
		for i, elem := range raw {
			v, err := fromJSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	case map[string]any:
		out := make(Hash, len(raw))
		for k, elem := range raw {
			v, err := fromJSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, aflerr.Formatf("unsupported json value %T", raw)
}
