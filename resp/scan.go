package resp

import (
	"fmt"
	"strconv"

	"github.com/joomcode/errorx"
)

// Scan unmarshals a decoded Reply into dst, which must be a pointer to one of
// a small set of supported Go types, or nil to discard the reply. An error
// reply always fails the scan with the reply's text.
//
// Nil replies zero the destination. Integer replies scan into numeric and
// string destinations; string replies scan into numeric destinations when
// their payload parses as a number.
func Scan(r Reply, dst interface{}) error {
	if r.Type == TypeError {
		return errorx.IllegalState.New("error reply: %s", r.Str)
	}
	if dst == nil {
		return nil
	}

	switch d := dst.(type) {
	case *string:
		if r.IsNil() {
			*d = ""
			return nil
		}
		switch r.Type {
		case TypeInteger:
			*d = strconv.FormatInt(r.Int, 10)
			return nil
		case TypeSimpleString, TypeBulkString:
			*d = string(r.Str)
			return nil
		}

	case *[]byte:
		if r.IsNil() {
			*d = nil
			return nil
		}
		switch r.Type {
		case TypeSimpleString, TypeBulkString:
			*d = append((*d)[:0], r.Str...)
			return nil
		}

	case *int64:
		n, err := replyInt(r)
		if err != nil {
			return err
		}
		*d = n
		return nil

	case *int:
		n, err := replyInt(r)
		if err != nil {
			return err
		}
		*d = int(n)
		return nil

	case *bool:
		n, err := replyInt(r)
		if err != nil {
			return err
		}
		*d = n != 0
		return nil

	case *float64:
		if r.IsNil() {
			*d = 0
			return nil
		}
		switch r.Type {
		case TypeInteger:
			*d = float64(r.Int)
			return nil
		case TypeSimpleString, TypeBulkString:
			f, err := strconv.ParseFloat(string(r.Str), 64)
			if err != nil {
				return errorx.IllegalState.New("reply %q is not a float", r.Str)
			}
			*d = f
			return nil
		}

	case *[]string:
		if r.IsNil() {
			*d = nil
			return nil
		}
		if r.Type == TypeArray {
			out := make([]string, len(r.Arr))
			for i, el := range r.Arr {
				if err := Scan(el, &out[i]); err != nil {
					return err
				}
			}
			*d = out
			return nil
		}

	case *[][]byte:
		if r.IsNil() {
			*d = nil
			return nil
		}
		if r.Type == TypeArray {
			out := make([][]byte, len(r.Arr))
			for i, el := range r.Arr {
				if err := Scan(el, &out[i]); err != nil {
					return err
				}
			}
			*d = out
			return nil
		}

	case *map[string]string:
		if r.IsNil() {
			*d = nil
			return nil
		}
		if r.Type == TypeArray && len(r.Arr)%2 == 0 {
			out := make(map[string]string, len(r.Arr)/2)
			for i := 0; i < len(r.Arr); i += 2 {
				var k, v string
				if err := Scan(r.Arr[i], &k); err != nil {
					return err
				}
				if err := Scan(r.Arr[i+1], &v); err != nil {
					return err
				}
				out[k] = v
			}
			*d = out
			return nil
		}

	case *Reply:
		*d = r
		return nil

	case *interface{}:
		*d = r.Value(false)
		return nil

	default:
		return errorx.IllegalArgument.New("cannot scan into %T", dst)
	}

	return errorx.IllegalState.New(
		"cannot scan %s reply into %s", r.Type, fmt.Sprintf("%T", dst))
}

func replyInt(r Reply) (int64, error) {
	switch r.Type {
	case TypeNil:
		return 0, nil
	case TypeInteger:
		return r.Int, nil
	case TypeSimpleString, TypeBulkString:
		n, err := strconv.ParseInt(string(r.Str), 10, 64)
		if err != nil {
			return 0, errorx.IllegalState.New("reply %q is not an integer", r.Str)
		}
		return n, nil
	}
	return 0, errorx.IllegalState.New("cannot scan %s reply into an integer", r.Type)
}
