package wire

import "fmt"

// ClientKind enumerates the frame kinds sent from a client to CLA, mirroring
// sibench's Opcode catalog in messages.go but using a closed int enum
// instead of untyped strings, since the wire carries it as a u32 not text.
type ClientKind uint32

const (
	KindRegister ClientKind = iota
	KindRegisterDbg
	KindAcquire
	KindRelease
	KindRestart
	KindShutdown
	KindNvmBackup
	KindAckColdReset
	KindAckShutdown
	KindNotifyDbg
)

// EventKind enumerates the frame kinds sent from CLA back to a client.
// These share the ClientKind's numeric space per spec §4.3 ("Events to
// client (same wire kind space)"), numbered from 100 so that no event kind
// collides with a ClientKind value.
type EventKind uint32

const (
	KindMdmDown EventKind = iota + 100
	KindMdmOn
	KindMdmUp
	KindMdmOos
	KindMdmColdReset
	KindMdmShutdown
	KindMdmDbgInfo
)

// RestartCause is the cause code carried by a RESTART command.
type RestartCause int32

const (
	CauseMdmErr RestartCause = iota
	CauseApplyUpdate
)

// DbgKind enumerates diagnostic event kinds (spec §3 Debug-info).
type DbgKind int32

const (
	DbgStats DbgKind = iota
	DbgInfoKind
	DbgError
	DbgPlatformReboot
	DbgDumpStart
	DbgDumpEnd
	DbgApimr
	DbgSelfReset
	DbgFwSuccess
	DbgFwFailure
	DbgTlvNone
	DbgTlvSuccess
	DbgTlvFailure
	DbgNvmBackupSuccess
	DbgNvmBackupFailure
)

// LDataMax and NDataMax bound a DbgInfo's free-form data strings (spec §3).
const (
	LDataMax = 256
	NDataMax = 16
)

// DbgInfo is the diagnostic payload forwarded to interested clients.
type DbgInfo struct {
	Kind       DbgKind
	ApLogSize  int32
	BpLogSize  int32
	BpLogTime  int32
	Data       []string
}

// Validate enforces the L_DATA_MAX / N_DATA_MAX bounds (spec §3).
func (d DbgInfo) Validate() error {
	if len(d.Data) > NDataMax {
		return fmt.Errorf("wire: dbg info has %d data entries, max %d", len(d.Data), NDataMax)
	}
	for i, s := range d.Data {
		if len(s) > LDataMax {
			return fmt.Errorf("wire: dbg info data[%d] is %d bytes, max %d", i, len(s), LDataMax)
		}
	}
	return nil
}

func encodeDbgInfo(d DbgInfo) ([]Field, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	fields := []Field{
		IntField(int32(d.Kind)),
		IntField(d.ApLogSize),
		IntField(d.BpLogSize),
		IntField(d.BpLogTime),
	}
	for _, s := range d.Data {
		fields = append(fields, StringField(s))
	}
	return fields, nil
}

func decodeDbgInfo(fields []Field) (DbgInfo, error) {
	if len(fields) < 4 {
		return DbgInfo{}, fmt.Errorf("wire: dbg info frame too short")
	}
	for i := 0; i < 4; i++ {
		if fields[i].Type != DataInt {
			return DbgInfo{}, fmt.Errorf("wire: dbg info field %d is not an int", i)
		}
	}
	d := DbgInfo{
		Kind:      DbgKind(fields[0].Int),
		ApLogSize: fields[1].Int,
		BpLogSize: fields[2].Int,
		BpLogTime: fields[3].Int,
	}
	for _, f := range fields[4:] {
		if f.Type != DataString {
			return DbgInfo{}, fmt.Errorf("wire: dbg info data field is not a string")
		}
		d.Data = append(d.Data, f.Str)
	}
	if err := d.Validate(); err != nil {
		return DbgInfo{}, err
	}
	return d, nil
}

// EncodeRegister builds a REGISTER / REGISTER_DBG frame.
func EncodeRegister(dbg bool, name string, eventMask uint32) (Frame, error) {
	if len(name) > NameMax {
		return Frame{}, fmt.Errorf("wire: name %q exceeds NAME_MAX %d", name, NameMax)
	}
	kind := KindRegister
	if dbg {
		kind = KindRegisterDbg
	}
	return Frame{
		Kind:   uint32(kind),
		Fields: []Field{StringField(name), IntField(int32(eventMask))},
	}, nil
}

// NameMax bounds a client's registered name (spec §6).
const NameMax = 64

// DecodeRegister extracts the name and event mask from a REGISTER frame.
func DecodeRegister(f Frame) (name string, eventMask uint32, err error) {
	if len(f.Fields) != 2 || f.Fields[0].Type != DataString || f.Fields[1].Type != DataInt {
		return "", 0, fmt.Errorf("wire: malformed register frame")
	}
	return f.Fields[0].Str, uint32(f.Fields[1].Int), nil
}

// EncodeRestart builds a RESTART frame, with an optional DbgInfo.
func EncodeRestart(cause RestartCause, dbg *DbgInfo) (Frame, error) {
	fields := []Field{IntField(int32(cause))}
	if dbg != nil {
		dbgFields, err := encodeDbgInfo(*dbg)
		if err != nil {
			return Frame{}, err
		}
		fields = append(fields, dbgFields...)
	}
	return Frame{Kind: uint32(KindRestart), Fields: fields}, nil
}

// DecodeRestart extracts the cause and optional DbgInfo from a RESTART frame.
func DecodeRestart(f Frame) (cause RestartCause, dbg *DbgInfo, err error) {
	if len(f.Fields) < 1 || f.Fields[0].Type != DataInt {
		return 0, nil, fmt.Errorf("wire: malformed restart frame")
	}
	cause = RestartCause(f.Fields[0].Int)
	if len(f.Fields) > 1 {
		d, derr := decodeDbgInfo(f.Fields[1:])
		if derr != nil {
			return 0, nil, derr
		}
		dbg = &d
	}
	return cause, dbg, nil
}

// EncodeNotifyDbg builds a NOTIFY_DBG frame.
func EncodeNotifyDbg(d DbgInfo) (Frame, error) {
	fields, err := encodeDbgInfo(d)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: uint32(KindNotifyDbg), Fields: fields}, nil
}

// DecodeNotifyDbg extracts the DbgInfo from a NOTIFY_DBG frame.
func DecodeNotifyDbg(f Frame) (DbgInfo, error) {
	return decodeDbgInfo(f.Fields)
}

// EncodeMdmDbgInfo builds an MDM_DBG_INFO event frame.
func EncodeMdmDbgInfo(d DbgInfo) (Frame, error) {
	fields, err := encodeDbgInfo(d)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: uint32(KindMdmDbgInfo), Fields: fields}, nil
}

// DecodeMdmDbgInfo extracts the DbgInfo from an MDM_DBG_INFO frame.
func DecodeMdmDbgInfo(f Frame) (DbgInfo, error) {
	return decodeDbgInfo(f.Fields)
}

// Simple - builds a frame with no payload, for commands/events that carry
// only their kind (ACQUIRE, RELEASE, SHUTDOWN, NVM_BACKUP, ACK_*,
// MDM_DOWN, MDM_ON, MDM_UP, MDM_OOS, MDM_COLD_RESET, MDM_SHUTDOWN).
func Simple(kind uint32) Frame {
	return Frame{Kind: kind}
}
