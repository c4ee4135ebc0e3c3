package merkle

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// LeafValue is the ordered tuple committed by a single leaf, e.g.
// []interface{}{common.Address, *big.Int} for an ["address", "uint256"] encoding.
type LeafValue []interface{}

type fieldKind int

const (
	kindAddress fieldKind = iota
	kindBool
	kindUint
	kindFixedBytes
)

type fieldType struct {
	tag  string
	kind fieldKind
	// bits for kindUint, bytes for kindFixedBytes
	size int
}

// leafCodec turns typed tuples into their abi.encode payload.
type leafCodec struct {
	tags   []string
	fields []fieldType
	args   abi.Arguments
}

func parseFieldType(tag string) (fieldType, error) {
	t := strings.TrimSpace(tag)
	switch {
	case t == "address":
		return fieldType{tag: t, kind: kindAddress}, nil
	case t == "bool":
		return fieldType{tag: t, kind: kindBool}, nil
	case t == "uint":
		return fieldType{tag: "uint256", kind: kindUint, size: 256}, nil
	case strings.HasPrefix(t, "uint"):
		bits, err := strconv.Atoi(t[len("uint"):])
		if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
			return fieldType{}, fmt.Errorf("unsupported type %q", tag)
		}
		return fieldType{tag: t, kind: kindUint, size: bits}, nil
	case strings.HasPrefix(t, "bytes"):
		n, err := strconv.Atoi(t[len("bytes"):])
		if err != nil || n < 1 || n > 32 {
			return fieldType{}, fmt.Errorf("unsupported type %q", tag)
		}
		return fieldType{tag: t, kind: kindFixedBytes, size: n}, nil
	default:
		return fieldType{}, fmt.Errorf("unsupported type %q", tag)
	}
}

func newLeafCodec(encoding []string) (*leafCodec, error) {
	if len(encoding) == 0 {
		return nil, &EncodingError{Field: -1, Reason: "leaf encoding must declare at least one type"}
	}
	c := &leafCodec{
		tags:   make([]string, len(encoding)),
		fields: make([]fieldType, len(encoding)),
		args:   make(abi.Arguments, len(encoding)),
	}
	for i, tag := range encoding {
		ft, err := parseFieldType(tag)
		if err != nil {
			return nil, &EncodingError{Field: i, Type: tag, Reason: err.Error()}
		}
		abiType, err := abi.NewType(ft.tag, "", nil)
		if err != nil {
			return nil, &EncodingError{Field: i, Type: tag, Reason: err.Error()}
		}
		c.tags[i] = ft.tag
		c.fields[i] = ft
		c.args[i] = abi.Argument{Type: abiType}
	}
	return c, nil
}

// normalize validates a value against the codec and converts every field to its
// canonical Go form: common.Address, bool, *big.Int or []byte.
func (c *leafCodec) normalize(value LeafValue) (LeafValue, error) {
	if len(value) != len(c.fields) {
		return nil, &EncodingError{
			Field:  -1,
			Reason: fmt.Sprintf("value has %d fields, encoding declares %d", len(value), len(c.fields)),
		}
	}
	out := make(LeafValue, len(value))
	for i, ft := range c.fields {
		v, err := normalizeField(ft, value[i])
		if err != nil {
			return nil, &EncodingError{Field: i, Type: ft.tag, Reason: err.Error()}
		}
		out[i] = v
	}
	return out, nil
}

// encode packs an already normalized value.
func (c *leafCodec) encode(value LeafValue) ([]byte, error) {
	packed := make([]interface{}, len(value))
	for i, ft := range c.fields {
		packed[i] = abiValue(ft, value[i])
	}
	payload, err := c.args.Pack(packed...)
	if err != nil {
		return nil, &EncodingError{Field: -1, Reason: err.Error()}
	}
	return payload, nil
}

// format renders a normalized value in its JSON dump form.
func (c *leafCodec) format(value LeafValue) []interface{} {
	out := make([]interface{}, len(value))
	for i, ft := range c.fields {
		switch ft.kind {
		case kindAddress:
			out[i] = value[i].(common.Address).Hex()
		case kindBool:
			out[i] = value[i].(bool)
		case kindUint:
			out[i] = value[i].(*big.Int).String()
		case kindFixedBytes:
			out[i] = hexutil.Encode(value[i].([]byte))
		}
	}
	return out
}

// EncodeLeaf returns the canonical abi.encode payload of value under encoding.
func EncodeLeaf(encoding []string, value LeafValue) ([]byte, error) {
	c, err := newLeafCodec(encoding)
	if err != nil {
		return nil, err
	}
	normalized, err := c.normalize(value)
	if err != nil {
		return nil, err
	}
	return c.encode(normalized)
}

// LeafHash returns the leaf digest of value under the given format and encoding.
func LeafHash(format Format, encoding []string, value LeafValue) ([32]byte, error) {
	if err := format.Validate(); err != nil {
		return [32]byte{}, err
	}
	payload, err := EncodeLeaf(encoding, value)
	if err != nil {
		return [32]byte{}, err
	}
	return hashLeafPayload(format, payload), nil
}

// StandardLeafHash is LeafHash with FormatStandard.
func StandardLeafHash(encoding []string, value LeafValue) ([32]byte, error) {
	return LeafHash(FormatStandard, encoding, value)
}

func normalizeField(ft fieldType, v interface{}) (interface{}, error) {
	switch ft.kind {
	case kindAddress:
		return toAddress(v)
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case kindUint:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s", n.String())
		}
		if ft.size == 256 {
			if _, overflow := uint256.FromBig(n); overflow {
				return nil, fmt.Errorf("value %s exceeds 2^256-1", n.String())
			}
		} else if n.BitLen() > ft.size {
			return nil, fmt.Errorf("value %s exceeds %d bits", n.String(), ft.size)
		}
		return n, nil
	case kindFixedBytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) != ft.size {
			return nil, fmt.Errorf("expected %d bytes, got %d", ft.size, len(b))
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown field kind %d", ft.kind)
}

func toAddress(v interface{}) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		if a == nil {
			return common.Address{}, fmt.Errorf("nil address")
		}
		return *a, nil
	case [20]byte:
		return common.Address(a), nil
	case []byte:
		if len(a) != common.AddressLength {
			return common.Address{}, fmt.Errorf("address must be %d bytes, got %d", common.AddressLength, len(a))
		}
		return common.BytesToAddress(a), nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("invalid address %q", a)
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case *uint256.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return n.ToBig(), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case float64:
		// encoding/json decodes untyped numbers as float64; only exact integers survive
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("non-integral or imprecise number %v", n)
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseBigInt(n.String())
	case string:
		return parseBigInt(n)
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	if digits == "" {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func toBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return append([]byte{}, b...), nil
	case common.Hash:
		return append([]byte{}, b[:]...), nil
	case [32]byte:
		return append([]byte{}, b[:]...), nil
	case string:
		out, err := hexutil.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytes %q: %w", b, err)
		}
		return out, nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out, nil
		}
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
}

// abiValue converts a normalized field into the Go type the abi packer expects.
func abiValue(ft fieldType, v interface{}) interface{} {
	switch ft.kind {
	case kindUint:
		n := v.(*big.Int)
		switch ft.size {
		case 8:
			return uint8(n.Uint64())
		case 16:
			return uint16(n.Uint64())
		case 32:
			return uint32(n.Uint64())
		case 64:
			return n.Uint64()
		default:
			return n
		}
	case kindFixedBytes:
		b := v.([]byte)
		arr := reflect.New(reflect.ArrayOf(len(b), reflect.TypeOf(byte(0)))).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface()
	default:
		return v
	}
}

// cloneValue copies the mutable parts of a normalized value.
func cloneValue(v LeafValue) LeafValue {
	out := make(LeafValue, len(v))
	for i, f := range v {
		switch x := f.(type) {
		case *big.Int:
			out[i] = new(big.Int).Set(x)
		case []byte:
			out[i] = append([]byte{}, x...)
		default:
			out[i] = x
		}
	}
	return out
}
