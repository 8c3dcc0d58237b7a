package tele

import (
	proto "github.com/golang/protobuf/proto"
)

// Hand maintained counterpart of event.proto, keep field tags in sync.

type Visibility int32

const (
	Visibility_Public  Visibility = 0
	Visibility_Private Visibility = 1
)

// Short aliases used by callers.
const (
	Public  = Visibility_Public
	Private = Visibility_Private
)

var Visibility_name = map[int32]string{
	0: "Public",
	1: "Private",
}

var Visibility_value = map[string]int32{
	"Public":  0,
	"Private": 1,
}

func (x Visibility) String() string {
	return proto.EnumName(Visibility_name, int32(x))
}

type Event struct {
	Id                   string     `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Name                 string     `protobuf:"bytes,2,opt,name=name,proto3" json:"name,omitempty"`
	Data                 string     `protobuf:"bytes,3,opt,name=data,proto3" json:"data,omitempty"`
	Visibility           Visibility `protobuf:"varint,4,opt,name=visibility,proto3,enum=tele.Visibility" json:"visibility,omitempty"`
	Time                 int64      `protobuf:"varint,5,opt,name=time,proto3" json:"time,omitempty"`
	DeviceId             string     `protobuf:"bytes,6,opt,name=device_id,json=deviceId,proto3" json:"device_id,omitempty"`
	XXX_NoUnkeyedLiteral struct{}   `json:"-"`
	XXX_unrecognized     []byte     `json:"-"`
	XXX_sizecache        int32      `json:"-"`
}

func (m *Event) Reset()         { *m = Event{} }
func (m *Event) String() string { return proto.CompactTextString(m) }
func (*Event) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("tele.Visibility", Visibility_name, Visibility_value)
	proto.RegisterType((*Event)(nil), "tele.Event")
}
