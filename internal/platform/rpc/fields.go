package rpc

import (
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// String returns the trimmed string field, or "" when absent or not a string.
func String(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		return strings.TrimSpace(s.StringValue)
	}
	return ""
}

// RequireString returns the field or an InvalidArgument status when it is empty.
func RequireString(req *structpb.Struct, key string) (string, error) {
	s := String(req, key)
	if s == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return s, nil
}

// Int64 returns an integer field given as a JSON number or a decimal string.
// ok is false when the field is absent; a present but malformed field is InvalidArgument.
func Int64(req *structpb.Struct, key string) (v int64, ok bool, err error) {
	val, present := req.GetFields()[key]
	if !present {
		return 0, false, nil
	}
	switch k := val.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
		}
		return int64(f), true, nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(k.StringValue), 10, 64)
		if err != nil {
			return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
		}
		return n, true, nil
	case *structpb.Value_NullValue:
		return 0, false, nil
	}
	return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
}

// Bool returns a boolean field, false when absent.
func Bool(req *structpb.Struct, key string) bool {
	if v, ok := req.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

// Strings returns a list-of-strings field; non-string items are skipped.
func Strings(req *structpb.Struct, key string) []string {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s, ok := item.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

// Time formats t for a response: RFC 3339 in UTC, "" for the zero time.
func Time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// List converts strings into a value structpb.NewStruct accepts.
func List(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Response builds a response Struct. Encoding failures are Internal.
func Response(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}
