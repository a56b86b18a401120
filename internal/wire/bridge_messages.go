package wire

import "fmt"

// BridgeKind enumerates the host-bridge message types (spec §6).
type BridgeKind uint32

const (
	BridgeWakelockAcquire BridgeKind = iota
	BridgeWakelockRelease
	BridgeStartService
	BridgeBroadcastIntent
)

// EncodeWakelockEdge builds a WAKELOCK_ACQUIRE / WAKELOCK_RELEASE frame.
func EncodeWakelockEdge(msgID uint32, acquire bool) BridgeFrame {
	kind := BridgeWakelockRelease
	if acquire {
		kind = BridgeWakelockAcquire
	}
	return BridgeFrame{MsgID: msgID, Kind: uint32(kind)}
}

// EncodeStartService builds a START_SERVICE frame.
func EncodeStartService(msgID uint32, pkg, class string) BridgeFrame {
	return BridgeFrame{
		MsgID:  msgID,
		Kind:   uint32(BridgeStartService),
		Fields: []Field{StringField(pkg), StringField(class)},
	}
}

// IntentParam is one named parameter of a broadcast intent.
type IntentParam struct {
	Name string
	// One of IntVal/StrVal is meaningful, selected by IsInt.
	IsInt  bool
	IntVal int32
	StrVal string
}

// IntParam builds an integer IntentParam.
func IntParam(name string, v int32) IntentParam {
	return IntentParam{Name: name, IsInt: true, IntVal: v}
}

// StrParam builds a string IntentParam.
func StrParam(name, v string) IntentParam {
	return IntentParam{Name: name, StrVal: v}
}

// EncodeBroadcastIntent builds a BROADCAST_INTENT frame. Per spec §6, each
// parameter is serialised as its name followed by its typed value: the
// format string "instId%d" with value 1 becomes one string "instId"
// followed by one int 1 — i.e. the name is a plain prefix string field,
// not interpolated into a format string on the wire.
func EncodeBroadcastIntent(msgID uint32, name string, params []IntentParam) BridgeFrame {
	fields := []Field{StringField(name)}
	for _, p := range params {
		fields = append(fields, StringField(p.Name))
		if p.IsInt {
			fields = append(fields, IntField(p.IntVal))
		} else {
			fields = append(fields, StringField(p.StrVal))
		}
	}
	return BridgeFrame{MsgID: msgID, Kind: uint32(BridgeBroadcastIntent), Fields: fields}
}

// DecodeBroadcastIntent is the inverse of EncodeBroadcastIntent, used by
// tests to assert on what was sent.
func DecodeBroadcastIntent(f BridgeFrame) (name string, params []IntentParam, err error) {
	if len(f.Fields) < 1 || f.Fields[0].Type != DataString {
		return "", nil, fmt.Errorf("wire: malformed broadcast intent frame")
	}
	name = f.Fields[0].Str
	rest := f.Fields[1:]
	for len(rest) > 0 {
		if len(rest) < 2 || rest[0].Type != DataString {
			return "", nil, fmt.Errorf("wire: malformed intent parameter")
		}
		pname := rest[0].Str
		switch rest[1].Type {
		case DataInt:
			params = append(params, IntParam(pname, rest[1].Int))
		case DataString:
			params = append(params, StrParam(pname, rest[1].Str))
		default:
			return "", nil, fmt.Errorf("wire: unknown intent parameter type")
		}
		rest = rest[2:]
	}
	return name, params, nil
}
